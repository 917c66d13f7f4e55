// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.


package flags

import (
	"flag"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

// DirectoryString is a flag value that expands to a clean path when set.
type DirectoryString string

func (s *DirectoryString) String() string {
	return string(*s)
}

func (s *DirectoryString) Set(value string) error {
	*s = DirectoryString(expandPath(value))
	return nil
}

// DirectoryFlag is a path flag. A leading ~ and environment variables in the
// value are expanded, e.g. ~/.portal -> /home/username/.portal
type DirectoryFlag struct {
	Name string

	Category    string
	DefaultText string
	Usage       string

	Required   bool
	Hidden     bool
	HasBeenSet bool

	Value   DirectoryString
	EnvVars []string

	Aliases []string
}

func (f *DirectoryFlag) Names() []string { return append([]string{f.Name}, f.Aliases...) }
func (f *DirectoryFlag) IsSet() bool     { return f.HasBeenSet }
func (f *DirectoryFlag) String() string  { return cli.FlagStringer(f) }

// Apply registers the flag. A value found in one of the env vars replaces the
// default.
func (f *DirectoryFlag) Apply(set *flag.FlagSet) error {
	for _, env := range f.EnvVars {
		if val, ok := os.LookupEnv(env); ok && val != "" {
			f.Value.Set(val)
			f.HasBeenSet = true
			break
		}
	}
	for _, name := range f.Names() {
		set.Var(&f.Value, strings.TrimSpace(name), f.Usage)
	}
	return nil
}

func (f *DirectoryFlag) IsRequired() bool { return f.Required }

func (f *DirectoryFlag) IsVisible() bool { return !f.Hidden }

func (f *DirectoryFlag) GetCategory() string { return f.Category }

func (f *DirectoryFlag) TakesValue() bool     { return true }
func (f *DirectoryFlag) GetUsage() string     { return f.Usage }
func (f *DirectoryFlag) GetValue() string     { return f.Value.String() }
func (f *DirectoryFlag) GetEnvVars() []string { return f.EnvVars }

func (f *DirectoryFlag) GetDefaultText() string {
	if f.DefaultText != "" {
		return f.DefaultText
	}
	return f.GetValue()
}

// expandPath replaces a leading ~ with the home directory, expands
// environment variables and cleans the result. ~someuser/tmp is not expanded.
func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~\\") {
		if home := HomeDir(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
