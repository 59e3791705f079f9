package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleetforge/pkg/client"
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"hosts"},
	Short:   "Inspect fleet hosts",
}

var hostListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hosts, err := c.ListHosts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list hosts: %w", err)
		}
		if len(hosts) == 0 {
			fmt.Println("No hosts found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tADDRESS\tSTATUS\tCPUS\tMEM MIB\tLAST HEARTBEAT")
		for _, h := range hosts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", h.ID, h.Address, h.Status, h.CPUs, h.MemMiB, h.LastHeartbeatAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var hostGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a host's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		h, err := c.GetHost(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get host: %w", err)
		}
		fmt.Printf("ID:             %s\n", h.ID)
		fmt.Printf("Address:        %s\n", h.Address)
		fmt.Printf("Status:         %s\n", h.Status)
		fmt.Printf("CPUs/Mem/Disk:  %d / %d MiB / %d MiB\n", h.CPUs, h.MemMiB, h.DiskMiB)
		fmt.Printf("Last heartbeat: %s\n", h.LastHeartbeatAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostListCmd, hostGetCmd)
}
