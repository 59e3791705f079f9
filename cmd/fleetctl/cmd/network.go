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

var networkCmd = &cobra.Command{
	Use:     "network",
	Aliases: []string{"networks", "net"},
	Short:   "Manage host bridges/VLANs",
	Long:    `Most networks come into being implicitly when a VM is created with a NIC spec; this is the explicit registration/inspection path.`,
}

var networkCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a bridge on a host",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		hostID, _ := cmd.Flags().GetString("host-id")
		bridge, _ := cmd.Flags().GetString("bridge-name")
		vlan, _ := cmd.Flags().GetInt("vlan-id")

		req := client.CreateNetworkRequest{HostID: hostID, BridgeName: bridge}
		if vlan != 0 {
			req.VLANID = &vlan
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		nw, err := c.CreateNetwork(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create network: %w", err)
		}
		fmt.Printf("Network registered: %s (%s on %s)\n", nw.ID, nw.BridgeName, nw.HostID)
		return nil
	},
}

var networkListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		nws, err := c.ListNetworks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list networks: %w", err)
		}
		if len(nws) == 0 {
			fmt.Println("No networks found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tBRIDGE\tHOST\tCIDR\tGATEWAY")
		for _, nw := range nws {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", nw.ID, nw.Type, nw.BridgeName, nw.HostID, nw.CIDR, nw.Gateway)
		}
		return w.Flush()
	},
}

func init() {
	networkCreateCmd.Flags().String("host-id", "", "host the bridge lives on")
	networkCreateCmd.Flags().String("bridge-name", "", "bridge device name")
	networkCreateCmd.Flags().Int("vlan-id", 0, "VLAN tag, if this is a VLAN sub-bridge")

	networkCmd.AddCommand(networkCreateCmd, networkListCmd)
}
