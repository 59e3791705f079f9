package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleetforge/pkg/client"
	"github.com/fleetforge/fleetforge/pkg/model"
)

var volumeCmd = &cobra.Command{
	Use:     "volume",
	Aliases: []string{"volumes"},
	Short:   "Manage volumes (rootfs/data disks living on a host)",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a volume already present on a host's filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")
		size, _ := cmd.Flags().GetInt64("size-bytes")
		vtype, _ := cmd.Flags().GetString("type")
		hostID, _ := cmd.Flags().GetString("host-id")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		v, err := c.CreateVolume(ctx, client.CreateVolumeRequest{
			Name:      name,
			Path:      path,
			SizeBytes: size,
			Type:      model.VolumeType(vtype),
			HostID:    hostID,
		})
		if err != nil {
			return fmt.Errorf("failed to create volume: %w", err)
		}
		fmt.Printf("Volume registered: %s (%s)\n", v.ID, v.Name)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		hostID, _ := cmd.Flags().GetString("host-id")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vols, err := c.ListVolumes(ctx, hostID)
		if err != nil {
			return fmt.Errorf("failed to list volumes: %w", err)
		}
		if len(vols) == 0 {
			fmt.Println("No volumes found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tHOST\tPATH")
		for _, v := range vols {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Type, v.Status, v.HostID, v.Path)
		}
		return w.Flush()
	},
}

var volumeDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a volume",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DeleteVolume(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete volume: %w", err)
		}
		fmt.Printf("Volume %s deleted\n", args[0])
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().String("name", "", "volume name")
	volumeCreateCmd.Flags().String("path", "", "disk file path on the host")
	volumeCreateCmd.Flags().Int64("size-bytes", 0, "volume size in bytes")
	volumeCreateCmd.Flags().String("type", "", "ext4|qcow2|raw (default ext4)")
	volumeCreateCmd.Flags().String("host-id", "", "host the volume's file lives on")

	volumeListCmd.Flags().String("host-id", "", "filter by host id")

	volumeCmd.AddCommand(volumeCreateCmd, volumeListCmd, volumeDeleteCmd)
}
