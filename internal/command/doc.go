// Package command turns text lines into scheduler calls.
//
// A line is "<command> [--flag value words...]...". Flag values run until the
// next "--" token, so names need no quoting; quotes and backslash escapes are
// still honoured. Flag names are case-insensitive.
package command
