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

var imageCmd = &cobra.Command{
	Use:     "image",
	Aliases: []string{"images"},
	Short:   "Manage images (kernels, rootfs, data disks)",
}

var imageCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register an image already present on a host's filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")
		size, _ := cmd.Flags().GetInt64("size-bytes")
		sha, _ := cmd.Flags().GetString("sha256")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		img, err := c.CreateImage(ctx, client.CreateImageRequest{
			Kind:          model.ImageKind(kind),
			Name:          name,
			CanonicalPath: path,
			SizeBytes:     size,
			SHA256:        sha,
		})
		if err != nil {
			return fmt.Errorf("failed to create image: %w", err)
		}
		fmt.Printf("Image registered: %s (%s)\n", img.ID, img.Name)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List images",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		imgs, err := c.ListImages(ctx, model.ImageKind(kind))
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
		if len(imgs) == 0 {
			fmt.Println("No images found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tNAME\tPATH\tSIZE")
		for _, img := range imgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", img.ID, img.Kind, img.Name, img.CanonicalPath, img.SizeBytes)
		}
		return w.Flush()
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete an image",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DeleteImage(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}
		fmt.Printf("Image %s deleted\n", args[0])
		return nil
	},
}

func init() {
	imageCreateCmd.Flags().String("kind", "", "kernel|rootfs|data|container-runtime|function-runtime")
	imageCreateCmd.Flags().String("name", "", "image name")
	imageCreateCmd.Flags().String("path", "", "canonical filesystem path on every host")
	imageCreateCmd.Flags().Int64("size-bytes", 0, "image size in bytes")
	imageCreateCmd.Flags().String("sha256", "", "content hash for integrity checks")

	imageListCmd.Flags().String("kind", "", "filter by kind")

	imageCmd.AddCommand(imageCreateCmd, imageListCmd, imageDeleteCmd)
}
