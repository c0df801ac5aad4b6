package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonOK},
		{fmt.Errorf("read: %w", fs.ErrNotExist), ReasonVanished},
		{fmt.Errorf("read: %w", fs.ErrPermission), ReasonPermission},
		{fmt.Errorf("stat: %w", procfs.ErrMalformed), ReasonMalformed},
		{errors.New("i/o timeout"), ReasonUnavailable},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestResultOr(t *testing.T) {
	ok := resultOf(3)
	if !ok.OK() || ok.Or(7) != 3 {
		t.Fatalf("ok result = %+v", ok)
	}
	failed := resultErr[int](fs.ErrPermission)
	if failed.OK() || failed.Or(7) != 7 {
		t.Fatalf("failed result = %+v", failed)
	}
	if hostReason(ReasonVanished) != ReasonUnavailable || hostReason(ReasonPermission) != ReasonPermission {
		t.Fatal("hostReason did not map vanished to unavailable")
	}
}
