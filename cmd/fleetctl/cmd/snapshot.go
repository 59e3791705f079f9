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

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snapshots", "snap"},
	Short:   "Capture and restore VM memory snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [vm-id]",
	Short: "Capture a snapshot of a running VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		snapType, _ := cmd.Flags().GetString("type")
		parent, _ := cmd.Flags().GetString("parent")
		resume, _ := cmd.Flags().GetBool("resume")

		req := client.CreateSnapshotRequest{
			Name:   name,
			Type:   model.SnapshotType(snapType),
			Resume: resume,
		}
		if parent != "" {
			req.ParentID = &parent
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		sn, err := c.CreateSnapshot(ctx, args[0], req)
		if err != nil {
			return fmt.Errorf("failed to create snapshot: %w", err)
		}
		fmt.Printf("Snapshot created: %s (%s)\n", sn.ID, sn.Name)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [vm-id]",
	Short: "List a VM's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		snaps, err := c.ListSnapshots(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tCREATED")
		for _, sn := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", sn.ID, sn.Name, sn.Type, sn.SizeBytes, sn.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a snapshot",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DeleteSnapshot(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete snapshot: %w", err)
		}
		fmt.Printf("Snapshot %s deleted\n", args[0])
		return nil
	},
}

var snapshotInstantiateCmd = &cobra.Command{
	Use:   "instantiate [snapshot-id]",
	Short: "Create a new VM resumed from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetString("owner-id")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		vm, err := c.InstantiateSnapshot(ctx, args[0], client.InstantiateSnapshotRequest{
			Name:    name,
			OwnerID: owner,
		})
		if err != nil {
			return fmt.Errorf("failed to instantiate snapshot: %w", err)
		}
		fmt.Printf("VM created from snapshot: %s\n", vm.ID)
		return nil
	},
}

func init() {
	snapshotCreateCmd.Flags().String("name", "", "snapshot name")
	snapshotCreateCmd.Flags().String("type", "full", "full|diff")
	snapshotCreateCmd.Flags().String("parent", "", "parent snapshot id, for a diff snapshot")
	snapshotCreateCmd.Flags().Bool("resume", false, "resume the VM immediately after the snapshot completes")

	snapshotInstantiateCmd.Flags().String("name", "", "name for the new VM")
	snapshotInstantiateCmd.Flags().String("owner-id", "", "owning operator/user id")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDeleteCmd, snapshotInstantiateCmd)
}
