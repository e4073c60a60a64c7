// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package shadow

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
	"github.com/foundriesio/dg-fota/cli/subcommands"
	"github.com/foundriesio/dg-fota/lwm2m"
)

var ShadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Inspect device shadows",
}

var showCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show the shadow of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJson, _ := cmd.Flags().GetBool("json")
		doc, err := api.CtxGetApi(cmd.Context()).Device(args[0]).Shadow()
		if err != nil {
			return err
		}
		if asJson {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Version: %d\nUpdated: %s\n\nReported:\n", doc.Version, doc.UpdatedAt)
		renderShadow(out, doc.Reported)
		if len(doc.Desired) > 0 {
			fmt.Fprintln(out, "\nDesired:")
			renderShadow(out, doc.Desired)
		}
		return nil
	},
}

func init() {
	ShadowCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("json", false, "Print the raw shadow document")
}

// renderShadow prints one line per resource, objects in id order.
func renderShadow(out io.Writer, shadow lwm2m.Shadow) {
	table := subcommands.NewTableWriter([]string{"OBJECT", "INSTANCE", "RESOURCE", "VALUE"})
	for _, obj := range lwm2m.ShadowToObjects(shadow) {
		for _, res := range slices.Sorted(maps.Keys(obj.Resources)) {
			table.AddRow(lwm2m.ObjectKey(obj.ObjectID, obj.ObjectVersion), obj.ObjectInstanceID, res, obj.Resources[res])
		}
	}
	table.Render(out)
}
