package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jitbridge/jitbridge/pkg/storage"
)

// Offline admin commands. They open the database directly, so the daemon
// must not be running against the same data dir.
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect and manage registered devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		devices, err := store.ListDevices()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "UDID\tADDRESS\tLAST SEEN\tCREATED")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.UDID,
				d.Address,
				d.LastSeen.Format("2006-01-02 15:04:05"),
				d.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove <udid>",
	Short: "Delete a device record",
	Long: `Delete a device record from the database.

This does not touch the WireGuard interface or the muxer; use the
DELETE /devices endpoint on a running daemon for a full teardown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteDevice(args[0]); err != nil {
			return err
		}
		fmt.Printf("Device %s removed\n", args[0])
		return nil
	},
}

func init() {
	deviceCmd.PersistentFlags().String("data-dir", "/var/lib/jitbridge", "Data directory")
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
}
