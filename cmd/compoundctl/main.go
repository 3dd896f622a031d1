// Command compoundctl inspects record shapes and dataset block
// structure without touching any file: it builds layouts from YAML
// shape descriptions and previews natural block windows.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/go-hdf5-compound/compound"
)

var rootCmd = &cobra.Command{
	Use:           "compoundctl",
	Short:         "Inspect compound record layouts and block windows",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var layoutCmd = &cobra.Command{
	Use:   "layout <shape.yaml>",
	Short: "Build a record layout from a YAML shape description",
	Long: `Build a record layout from a YAML shape description and print
each member's byte offset and size.

Example shape file:

  name: measurement
  members:
    - name: id
      kind: scalar
      elem: int64
    - name: label
      kind: string
      length: 16
    - name: state
      kind: enum
      labels: [IDLE, RUNNING, DONE]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var shape compound.Shape
		if err := yaml.Unmarshal(data, &shape); err != nil {
			return fmt.Errorf("parsing shape: %w", err)
		}
		log, _ := cmd.Flags().GetBool("verbose")
		opts := []compound.Option{}
		if log {
			zl, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer zl.Sync() //nolint:errcheck
			opts = append(opts, compound.WithLogger(zl))
		}
		layout, err := compound.NewLayout(&shape, opts...)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.MarshalIndent(struct {
				Name       string                  `json:"name"`
				RecordSize int                     `json:"recordSize"`
				Members    []compound.MemberLayout `json:"members"`
			}{layout.Name(), layout.RecordSize(), layout.Members()}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		printLayout(cmd, layout)
		return nil
	},
}

func printLayout(cmd *cobra.Command, l *compound.Layout) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "shape %q: %d bytes per record\n", l.Name(), l.RecordSize())
	fmt.Fprintf(w, "%-20s %-10s %8s %8s\n", "MEMBER", "KIND", "OFFSET", "SIZE")
	for _, m := range l.Members() {
		detail := m.Kind.String()
		switch {
		case m.Elem != 0:
			detail = m.Elem.String()
		case len(m.Labels) > 0:
			detail = fmt.Sprintf("enum(%d)", len(m.Labels))
		}
		if len(m.Dims) > 0 {
			detail += fmt.Sprintf("%v", m.Dims)
		}
		fmt.Fprintf(w, "%-20s %-10s %8d %8d\n", m.Name, detail, m.Offset, m.Size)
	}
}

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Preview the natural block windows over a record extent",
	RunE: func(cmd *cobra.Command, args []string) error {
		extent, _ := cmd.Flags().GetUint64("extent")
		block, _ := cmd.Flags().GetUint64("block")
		it := compound.NewBlocks(extent, block)
		var lines []string
		for {
			blk, ok := it.Next()
			if !ok {
				break
			}
			lines = append(lines, fmt.Sprintf("block %d: records [%d,%d)",
				blk.Index, blk.Offset, blk.Offset+blk.Length))
		}
		if len(lines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "empty extent, no blocks")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
		return nil
	},
}

func init() {
	layoutCmd.Flags().Bool("json", false, "print the layout as JSON")
	layoutCmd.Flags().Bool("verbose", false, "log resolution details")
	blocksCmd.Flags().Uint64("extent", 0, "dataset extent in records")
	blocksCmd.Flags().Uint64("block", 0, "block size in records (0 = whole extent)")
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(blocksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
