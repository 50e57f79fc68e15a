package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"inferd/pkg/types"
)

func defaultAddr() string {
	if v := os.Getenv("INFERCTL_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// buildRootCmd constructs the Cobra command tree.
func buildRootCmd() *cobra.Command {
	var addr string
	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Control a running inferd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr(), "Daemon base URL (defaults INFERCTL_ADDR or http://127.0.0.1:8080)")
	cli := func() *client { return newClient(addr) }

	catalogCmd := &cobra.Command{Use: "catalog", Short: "List models in the daemon catalog", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.CatalogResponse
		if err := cli().getJSON("/catalog", &resp); err != nil {
			return err
		}
		rows := make([][]string, 0, len(resp.Models))
		for _, m := range resp.Models {
			caps := make([]string, 0, len(m.Capabilities))
			for _, c := range m.Capabilities {
				caps = append(caps, string(c))
			}
			rows = append(rows, []string{m.ID, m.Name, humanize.IBytes(uint64(m.SizeBytes)), strings.Join(caps, ","), m.Quant})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "NAME", "SIZE", "CAPABILITIES", "QUANT"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
		return nil
	}}

	statusCmd := &cobra.Command{Use: "status", Short: "Show daemon status and live sessions", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.StatusResponse
		if err := cli().getJSON("/status", &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state: %s  uptime: %ds\n", resp.State, resp.UptimeSeconds)
		if resp.LastError != "" {
			fmt.Fprintf(out, "last error: %s\n", resp.LastError)
		}
		if len(resp.CachedAssets) > 0 {
			fmt.Fprintf(out, "cached: %s\n", strings.Join(resp.CachedAssets, ", "))
		}
		if len(resp.Sessions) == 0 {
			fmt.Fprintln(out, "no live sessions")
			return nil
		}
		rows := make([][]string, 0, len(resp.Sessions))
		for _, s := range resp.Sessions {
			rows = append(rows, []string{s.Model, s.State, fmt.Sprintf("%v", s.Multimodal), s.SessionID})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"MODEL", "STATE", "MULTIMODAL", "SESSION"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
		))
		return nil
	}}

	var acquireCacheLarge bool
	acquireCmd := &cobra.Command{Use: "acquire <model>", Short: "Download a model asset, streaming progress", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		progressOut := cmd.ErrOrStderr()
		req := types.AcquireRequest{Model: args[0]}
		if cmd.Flags().Changed("cache-large") {
			req.CacheLargeAssets = &acquireCacheLarge
		}
		return cli().postStream("/acquire", req, func(line []byte) error {
			var done types.AcquireDone
			if json.Unmarshal(line, &done) == nil && done.Done {
				if done.Cached {
					fmt.Fprintln(out, "served from cache")
				} else {
					fmt.Fprintf(out, "done: received %s (retained=%v)\n", humanize.IBytes(uint64(done.ReceivedBytes)), done.Retained)
				}
				return nil
			}
			var p types.DownloadProgress
			if err := json.Unmarshal(line, &p); err != nil {
				return err
			}
			fmt.Fprintf(progressOut, "%6.2f%%  %s / %s  %s/s  eta %s\n",
				p.Percentage,
				humanize.IBytes(uint64(p.LoadedBytes)),
				humanize.IBytes(uint64(p.TotalBytes)),
				humanize.IBytes(uint64(p.SpeedBPS)),
				fmtETA(p.ETASeconds))
			return nil
		})
	}}
	acquireCmd.Flags().BoolVar(&acquireCacheLarge, "cache-large", false, "Persist large assets to the application cache")

	var genModel string
	var genStream bool
	var genOpts types.GenerationOptions
	generateCmd := &cobra.Command{Use: "generate <prompt>", Short: "Generate text for a prompt", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		req := types.GenerateRequest{Model: genModel, Prompt: strings.Join(args, " "), Stream: genStream, Options: genOpts}
		if !genStream {
			var res types.GenerationResult
			if err := cli().postJSON("/generate", req, &res); err != nil {
				return err
			}
			fmt.Fprintln(out, res.Text)
			printStats(cmd, res.Metadata)
			return nil
		}
		printed := ""
		return cli().postStream("/generate", req, func(line []byte) error {
			var ev types.StreamEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return err
			}
			// Events carry cumulative text; print only the new suffix.
			fmt.Fprint(out, textDelta(printed, ev.Text))
			printed = ev.Text
			if ev.Done {
				fmt.Fprintln(out)
				if ev.Metadata != nil {
					printStats(cmd, *ev.Metadata)
				}
			}
			return nil
		})
	}}
	generateCmd.Flags().StringVar(&genModel, "model", "", "Catalog entry id (daemon default if empty)")
	generateCmd.Flags().BoolVar(&genStream, "stream", false, "Stream output as it is generated")
	generateCmd.Flags().IntVar(&genOpts.MaxTokens, "max-tokens", 0, "Maximum new tokens (0 = backend default)")
	generateCmd.Flags().Float64Var(&genOpts.Temperature, "temperature", 0, "Sampling temperature")
	generateCmd.Flags().Float64Var(&genOpts.TopP, "top-p", 0, "Nucleus sampling probability")
	generateCmd.Flags().IntVar(&genOpts.TopK, "top-k", 0, "Top-K sampling")
	generateCmd.Flags().Int64Var(&genOpts.Seed, "seed", 0, "Random seed (0 = backend choice)")

	unloadCmd := &cobra.Command{Use: "unload <model>", Short: "Drain and close the session for a model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli().del("/sessions/" + args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "unloaded", args[0])
		return nil
	}}

	clearCacheCmd := &cobra.Command{Use: "clear-cache", Short: "Drop every asset from the daemon cache", RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli().del("/cache"); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	}}

	root.AddCommand(catalogCmd, statusCmd, acquireCmd, generateCmd, unloadCmd, clearCacheCmd)
	return root
}

func printStats(cmd *cobra.Command, md types.GenerationMetadata) {
	fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %d tokens, %.1f tok/s, first token %.0fms, total %.0fms\n",
		md.Model, md.TotalTokens, md.TokensPerSecond, md.ResponseLatencyMs, md.TotalGenerationTimeMs)
}

// textDelta returns the suffix of cur beyond prev. Cumulative streams should
// only ever grow; a rewrite falls back to printing cur whole.
func textDelta(prev, cur string) string {
	if strings.HasPrefix(cur, prev) {
		return cur[len(prev):]
	}
	return cur
}
