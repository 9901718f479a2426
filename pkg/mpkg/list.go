// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yeetrun/mpkg/pkg/client"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// infoConcurrency bounds the Info requests List makes.
const infoConcurrency = 8

type packageRow struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Size        int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Digest      string    `json:"digest,omitempty" yaml:"digest,omitempty"`
	Uploaded    time.Time `json:"uploaded,omitzero" yaml:"uploaded,omitempty"`
}

func rowFromInfo(info *client.PackageInfo) packageRow {
	return packageRow{
		ID:          info.ID,
		Name:        info.Name,
		Version:     info.Version,
		Description: info.Description,
		Size:        info.Size,
		Digest:      info.Digest.String(),
		Uploaded:    info.Uploaded,
	}
}

// List prints every package in the registry in format (table, json or
// yaml). Packages without metadata are listed by id alone.
func (a *App) List(ctx context.Context, format string) error {
	ids, err := a.Client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list packages: %w", err)
	}
	rows := make([]packageRow, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(infoConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			info, err := a.Client.Info(gctx, id)
			if errors.Is(err, client.ErrNotFound) {
				rows[i] = packageRow{ID: id}
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", id, err)
			}
			rows[i] = rowFromInfo(info)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return writeRows(a.Out, format, rows)
}

// Search prints registry packages matching query.
func (a *App) Search(ctx context.Context, query, format string) error {
	results, err := a.Client.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to search packages: %w", err)
	}
	rows := make([]packageRow, 0, len(results))
	for i := range results {
		rows = append(rows, rowFromInfo(&results[i]))
	}
	if len(rows) == 0 && format == "table" {
		a.printf("No packages match %q", query)
		return nil
	}
	return writeRows(a.Out, format, rows)
}

func writeRows(w io.Writer, format string, rows []packageRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tDESCRIPTION")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, orDash(r.Name), orDash(r.Version), r.Description)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
