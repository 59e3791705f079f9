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

var vmCmd = &cobra.Command{
	Use:     "vm",
	Aliases: []string{"vms"},
	Short:   "Manage VMs",
	Long:    `Create, list, inspect, control and delete VMs.`,
}

var vmCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new VM",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetString("owner-id")
		vcpu, _ := cmd.Flags().GetInt("vcpu")
		memMiB, _ := cmd.Flags().GetInt("mem-mib")
		kernelID, _ := cmd.Flags().GetString("kernel-image")
		rootfsID, _ := cmd.Flags().GetString("rootfs-image")
		templateID, _ := cmd.Flags().GetString("template")
		credUser, _ := cmd.Flags().GetString("cred-user")
		credHash, _ := cmd.Flags().GetString("cred-hash")
		userData, _ := cmd.Flags().GetString("user-data")

		req := client.CreateVMRequest{
			Name:          name,
			OwnerID:       owner,
			VCPU:          vcpu,
			MemMiB:        memMiB,
			KernelImageID: kernelID,
			RootfsImageID: rootfsID,
			CredUser:      credUser,
			CredHash:      credHash,
			UserData:      userData,
		}
		if templateID != "" {
			req.TemplateID = &templateID
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		vm, err := c.CreateVM(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create vm: %w", err)
		}

		fmt.Printf("VM created: %s\n", vm.ID)
		fmt.Printf("  Name:     %s\n", vm.Name)
		fmt.Printf("  Desired:  %s\n", vm.Desired)
		fmt.Printf("  Observed: %s\n", vm.Observed)
		return nil
	},
}

var vmListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List VMs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner-id")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vms, err := c.ListVMs(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to list vms: %w", err)
		}
		if len(vms) == 0 {
			fmt.Println("No VMs found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESIRED\tOBSERVED\tHOST\tGUEST IP")
		for _, vm := range vms {
			hostID := "-"
			if vm.HostID != nil {
				hostID = *vm.HostID
			}
			guestIP := "-"
			if vm.GuestIP != nil {
				guestIP = *vm.GuestIP
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", vm.ID, vm.Name, vm.Desired, vm.Observed, hostID, guestIP)
		}
		return w.Flush()
	},
}

var vmGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a VM's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vm, err := c.GetVM(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get vm: %w", err)
		}
		printVM(vm)
		return nil
	},
}

var vmDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a VM",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DeleteVM(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete vm: %w", err)
		}
		fmt.Printf("VM %s marked for deletion\n", args[0])
		return nil
	},
}

func vmActionCmd(use, short string, action func(*client.Client, context.Context, string) (*model.VM, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAPIKey(); err != nil {
				return err
			}
			c := client.NewClient(baseURL, apiKey)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			vm, err := action(c, ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to %s vm: %w", use, err)
			}
			fmt.Printf("VM %s is now desired=%s observed=%s\n", vm.ID, vm.Desired, vm.Observed)
			return nil
		},
	}
}

var vmFlushMetricsCmd = &cobra.Command{
	Use:   "flush-metrics [id]",
	Short: "Request an immediate Firecracker metrics flush",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.FlushMetrics(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to flush metrics: %w", err)
		}
		fmt.Println("metrics flush requested")
		return nil
	},
}

func printVM(vm *model.VM) {
	fmt.Printf("ID:           %s\n", vm.ID)
	fmt.Printf("Name:         %s\n", vm.Name)
	fmt.Printf("Owner:        %s\n", vm.OwnerID)
	fmt.Printf("Desired:      %s\n", vm.Desired)
	fmt.Printf("Observed:     %s\n", vm.Observed)
	fmt.Printf("VCPU/Mem:     %d / %d MiB\n", vm.VCPU, vm.MemMiB)
	if vm.HostID != nil {
		fmt.Printf("Host:         %s\n", *vm.HostID)
	}
	if vm.GuestIP != nil {
		fmt.Printf("Guest IP:     %s\n", *vm.GuestIP)
	}
	if vm.ErrorMessage != "" {
		fmt.Printf("Error:        %s (at %s)\n", vm.ErrorMessage, vm.LastErrorStep)
	}
	if vm.UserData != "" {
		fmt.Printf("User Data:    %s\n", vm.UserData)
	}
	fmt.Printf("Created:      %s\n", vm.CreatedAt.Format(time.RFC3339))
}

func init() {
	vmCreateCmd.Flags().String("name", "", "VM name")
	vmCreateCmd.Flags().String("owner-id", "", "owning operator/user id")
	vmCreateCmd.Flags().Int("vcpu", 0, "vCPU count (falls back to the template's)")
	vmCreateCmd.Flags().Int("mem-mib", 0, "memory in MiB (falls back to the template's)")
	vmCreateCmd.Flags().String("kernel-image", "", "kernel image id")
	vmCreateCmd.Flags().String("rootfs-image", "", "rootfs image id")
	vmCreateCmd.Flags().String("template", "", "template id to apply before overrides")
	vmCreateCmd.Flags().String("cred-user", "", "guest login user to inject")
	vmCreateCmd.Flags().String("cred-hash", "", "hashed guest login credential to inject")
	vmCreateCmd.Flags().String("user-data", "", "opaque cloud-init/MMDS document to seed at boot")

	vmListCmd.Flags().String("owner-id", "", "filter by owner id")

	vmCmd.AddCommand(vmCreateCmd, vmListCmd, vmGetCmd, vmDeleteCmd, vmFlushMetricsCmd)
	vmCmd.AddCommand(
		vmActionCmd("start", "Start a stopped VM", (*client.Client).StartVM),
		vmActionCmd("stop", "Stop a running VM", (*client.Client).StopVM),
		vmActionCmd("pause", "Pause a running VM", (*client.Client).PauseVM),
		vmActionCmd("resume", "Resume a paused VM", (*client.Client).ResumeVM),
		vmActionCmd("ctrl-alt-del", "Send a graceful reset signal", (*client.Client).CtrlAltDelVM),
	)
}
