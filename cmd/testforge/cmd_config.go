// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/TestForge/services/audit"
)

// runConfig prints the effective configuration as YAML. Without a project
// path it shows the base layering of defaults, config file, and
// environment; with one it additionally merges flag overrides, resolves
// fallbacks, and validates. That is the exact configuration an audit of
// that path would run with.
func runConfig(cmd *cobra.Command, args []string) {
	var cfg audit.Config
	var err error

	if len(args) == 1 {
		projectPath, resolveErr := resolveProjectDir(args[0])
		if resolveErr != nil {
			fatal("%v", resolveErr)
		}
		cfg, err = mergedConfig(cmd, projectPath)
	} else {
		cfg, err = audit.LoadBaseConfig(configFile)
	}
	if err != nil {
		fatal("Invalid configuration: %v", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fatal("Failed to encode configuration: %v", err)
	}
	fmt.Print(string(out))
}
