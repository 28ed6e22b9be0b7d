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
	"context"
	"fmt"
	"strings"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/kernel"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/metrics"
	"github.com/kcore-project/kcore/tracing"
	"github.com/spf13/cobra"
)

func newMkimageCmd(c *cfg.Config) *cobra.Command {
	var (
		entry    string
		literals []string
	)

	cmd := &cobra.Command{
		Use:   "mkimage --entry NAME [--literal TEXT ...] OUT",
		Short: "Write an executable image into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mkimage(cmd.Context(), c, args[0], entry, literals)
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "", "Entry point the image runs, e.g. echo.")
	cmd.Flags().StringArrayVar(&literals, "literal", nil, "Literal table entry. May be repeated.")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

func mkimage(ctx context.Context, c *cfg.Config, out, entry string, literals []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.Storage.Backend != cfg.GCSStorageBackend {
		return fmt.Errorf("mkimage needs a persistent storage backend, have %q", c.Storage.Backend)
	}

	if !strings.HasSuffix(out, c.Loader.ExecutableSuffix) {
		return fmt.Errorf("image name %q lacks the %q suffix", out, c.Loader.ExecutableSuffix)
	}

	data, err := loader.Build(entry, literals)
	if err != nil {
		return err
	}

	store, err := kernel.NewStore(ctx, c, metrics.NewNoopMetrics(), tracing.NewNoopTracer())
	if err != nil {
		return fmt.Errorf("NewStore: %w", err)
	}

	if err = store.Save(ctx, out, data); err != nil {
		return fmt.Errorf("save %q: %w", out, err)
	}

	fmt.Printf("Wrote %d byte image %q with entry %q to %s\n", len(data), out, entry, store.Name())
	return nil
}
