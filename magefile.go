//go:build mage
// +build mage

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/magefile/mage/mg" // mg contains helpful utility functions, like Deps
	"github.com/magefile/mage/sh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var Default = Build

type Pi mg.Namespace

const templVersion = "v0.3.960"

var (
	buildDir   = "bin/pi"
	binName    = "hostscope"
	configFile = "hostscope.yaml"
)

// Regenerates the *_templ.go views from internal/web/*.templ
func Generate() error {
	return sh.RunV("go", "run", "github.com/a-h/templ/cmd/templ@"+templVersion, "generate", "-path", "internal/web")
}

// Builds the server and cli for the host platform into bin/
func Build() error {
	mg.Deps(Generate)
	fmt.Println("Building...")
	if err := sh.RunV("go", "build", "-o", filepath.Join("bin", binName), "./cmd/server.go"); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", filepath.Join("bin", binName+"-cli"), "./cmd/cli")
}

// Runs the unit tests with the race detector
func Test() error {
	mg.Deps(Generate)
	return sh.RunV("go", "test", "-race", "./...")
}

// Builds the server for the Raspberry Pi (linux/arm64)
func (Pi) Build() error {
	mg.Deps(Generate)
	fmt.Println("Building for linux/arm64...")
	env := map[string]string{"GOOS": "linux", "GOARCH": "arm64"}
	return sh.RunWithV(env, "go", "build", "-o", filepath.Join(buildDir, binName), "./cmd/server.go")
}

// Copies the server and its config to ~/hostscope on the Raspberry Pi.
// Assumes you have SSH keys setup for the Raspberry Pi.
func (Pi) Deploy(host, username string) error {
	mg.Deps(Pi.Build)
	target := username + "@" + host
	dir := remoteDir(username)

	fmt.Printf("Deploying to %s:%s\n", target, dir)
	if err := sh.Run("ssh", target, "mkdir", "-p", dir); err != nil {
		return fmt.Errorf("failed to create %s on host: %w", dir, err)
	}
	if err := copyTo(target, filepath.Join(buildDir, binName), dir+"/"+binName); err != nil {
		return err
	}
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("%s is required for deploy: %w", configFile, err)
	}
	return copyTo(target, configFile, dir+"/"+configFile)
}

// Deploys and runs the server on the Raspberry Pi over SSH. Blocks until the
// server exits; the first interrupt stops it, the second kills it.
func (Pi) Start(host, username string) error {
	mg.Deps(mg.F(Pi.Deploy, host, username))
	client, err := dial(username, host)
	if err != nil {
		return fmt.Errorf("failed to create SSH client: %w", err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	dir := remoteDir(username)
	cmd := fmt.Sprintf("%s/%s -config %s/%s", dir, binName, dir, configFile)
	fmt.Println("Running", cmd)
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("failed to start server on host: %w", err)
	}
	go relaySignals(session)
	return serverExit(session.Wait())
}

// Removes build output
func (Pi) Clean() {
	fmt.Println("Cleaning...")
	os.RemoveAll(filepath.Join(buildDir, binName))
}

func remoteDir(username string) string {
	return "/home/" + username + "/hostscope"
}

func copyTo(target, local, remote string) error {
	if err := sh.Run("scp", local, target+":"+remote); err != nil {
		return fmt.Errorf("failed to copy %s to host: %w", local, err)
	}
	return nil
}

func relaySignals(session *ssh.Session) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	fmt.Println("Received signal:", <-sigs)
	session.Signal(ssh.SIGTERM)
	<-sigs
	fmt.Println("Force killing server...")
	session.Signal(ssh.SIGKILL)
	session.Close()
	os.Exit(1)
}

// serverExit treats termination by our own signals as a clean exit.
func serverExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to wait for server to exit: %w", err)
	}
	switch exitErr.ExitStatus() {
	case 130, 143:
		fmt.Println("Server stopped by signal")
		return nil
	}
	return fmt.Errorf("server exited with status %d", exitErr.ExitStatus())
}

func dial(user, host string) (*ssh.Client, error) {
	auth, err := agentAuth()
	if err != nil {
		fmt.Println("No SSH agent keys:", err)
	}
	addr := net.JoinHostPort(host, "22")
	fmt.Println("Dialing SSH client to", addr)
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Dev only.
	})
}

// agentAuth offers the SSH agent's keys, upgrading RSA keys to SHA-2
// signatures since many servers reject ssh-rsa.
func agentAuth() ([]ssh.AuthMethod, error) {
	conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
	if err != nil {
		return nil, err
	}
	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		return nil, err
	}
	for i, s := range signers {
		if s.PublicKey().Type() != ssh.KeyAlgoRSA {
			continue
		}
		alg, ok := s.(ssh.AlgorithmSigner)
		if !ok {
			continue
		}
		if ms, err := ssh.NewSignerWithAlgorithms(alg, []string{ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSASHA512}); err == nil {
			signers[i] = ms
		}
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}
