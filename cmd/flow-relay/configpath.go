package main

import (
	"os"
	"path/filepath"
)

// candidateNames are tried in order in each search directory.
var candidateNames = []string{defaultConfigFile, "config.yml", "config.toml"}

// resolveConfigPath returns --config when set, else the first config file
// found in the working directory or ~/.config/flow-relay.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(wd, home)
}

// findConfigIn looks for a config file in dir only.
func findConfigIn(dir string) string {
	return findConfigInWithHome(dir, "")
}

// findConfigInWithHome looks in dir, then in home/.config/flow-relay.
// It falls back to defaultConfigFile so the load error names a sane path.
func findConfigInWithHome(dir, home string) string {
	dirs := []string{dir}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", appDir))
	}
	for _, d := range dirs {
		for _, name := range candidateNames {
			p := filepath.Join(d, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return defaultConfigFile
}
