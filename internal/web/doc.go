// Package web holds the templ views served next to the JSON API. Edit the
// .templ sources and run "mage generate" to refresh the *_templ.go files.
package web
