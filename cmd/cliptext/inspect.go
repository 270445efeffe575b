package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
	"github.com/23skdu/fletcher-clip/internal/embeddings/weights"
)

func newInspectCmd() *cobra.Command {
	var preset, weightsPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the parameter topology of a preset or a safetensors checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			if weightsPath != "" {
				st, err := weights.Open(weightsPath)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				rows = checkpointRows(st)
			} else {
				cfg, err := model.PresetByName(preset)
				if err != nil {
					return err
				}
				enc, err := model.NewCLIPTextEncoder(cfg)
				if err != nil {
					return err
				}
				rows = parameterRows(enc)
			}
			renderParameters(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "clip-l", "Encoder preset ("+strings.Join(model.PresetNames(), ", ")+")")
	cmd.Flags().StringVar(&weightsPath, "weights", "", "Inspect a safetensors file instead of a preset")
	return cmd
}

// parameterRows lists name, dtype, shape and element count per parameter in
// registry order.
func parameterRows(enc *model.CLIPTextEncoder) [][]string {
	dtype := enc.Backend.DType().String()
	var rows [][]string
	for pair := enc.Parameters().Oldest(); pair != nil; pair = pair.Next() {
		r, c := pair.Value.Dims()
		rows = append(rows, []string{pair.Key, dtype, fmt.Sprintf("%dx%d", r, c), strconv.Itoa(r * c)})
	}
	return rows
}

func checkpointRows(st *weights.File) [][]string {
	names := make([]string, 0, len(st.Tensors))
	for name := range st.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		info := st.Tensors[name]
		dims := make([]string, len(info.Shape))
		for i, d := range info.Shape {
			dims[i] = strconv.Itoa(d)
		}
		rows = append(rows, []string{name, info.DType, strings.Join(dims, "x"), strconv.Itoa(info.NumElements())})
	}
	return rows
}

func renderParameters(w io.Writer, rows [][]string) {
	var total int
	for _, row := range rows {
		n, _ := strconv.Atoi(row[3])
		total += n
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.SetFooter([]string{"", "", fmt.Sprintf("%d tensors", len(rows)), strconv.Itoa(total)})
	table.Render()
}
