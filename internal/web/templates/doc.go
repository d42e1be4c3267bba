// Package templates holds the HTML views of the converter as templ
// components. Edit the .templ files and run `templ generate`; the
// _templ.go files are generated.
package templates
