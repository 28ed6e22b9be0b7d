// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/common"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bootRequest is what the root command asks the kernel to run.
type bootRequest struct {
	Image string
	Args  []string

	// Local files copied into the store before boot, keyed by file name.
	Imports map[string]string
}

type runFunc func(c *cfg.Config, req bootRequest) error

func newRootCmd(run runFunc) (*cobra.Command, error) {
	var (
		configObj cfg.Config
		cfgFile   string
		imports   map[string]string
	)

	viper.Reset()
	rootCmd := &cobra.Command{
		Use:   "kcore [flags] image [args...]",
		Short: "Boot a kcore kernel and run an executable image as its root process",
		Long: `kcore runs user programs on a small simulated kernel. Files and
executable images live in an in-memory store or a GCS bucket. The kernel halts
when its last process exits, and kcore exits with the root process's status.`,
		Version:      common.GetVersion(),
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cfgFile, &configObj)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&configObj, bootRequest{
				Image:   args[0],
				Args:    args[1:],
				Imports: imports,
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "The path to the config file where all kcore related config needs to be specified.")
	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}
	rootCmd.Flags().StringToStringVar(&imports, "import", nil, "Copy a local file into the store before boot, as NAME=PATH. May be repeated.")

	rootCmd.AddCommand(newMkimageCmd(&configObj))
	return rootCmd, nil
}

func loadConfig(cfgFile string, c *cfg.Config) (err error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error while reading the config file: %w", err)
		}
	}

	err = viper.Unmarshal(c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.TagName = "yaml"
	})
	if err != nil {
		return fmt.Errorf("error while unmarshalling config: %w", err)
	}

	if err = cfg.Rationalize(c); err != nil {
		return fmt.Errorf("error while rationalizing config: %w", err)
	}

	if err = cfg.ValidateConfig(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Execute runs the root command and exits the binary with the root
// process's status.
func Execute() {
	status := 0
	rootCmd, err := newRootCmd(func(c *cfg.Config, req bootRequest) (err error) {
		status, err = runKernel(c, req, defaultConsole())
		return
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err = rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(status)
}
