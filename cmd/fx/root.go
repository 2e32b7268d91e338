package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-fx/service"
	"github.com/saiset-co/sai-fx/utils"
)

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "fx",
		Short:         "Lazy resource loading with sequenced, cached execution",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yml", "service configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newResolveCmd(opts),
		newManifestCmd(opts),
	)
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.NewService(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Load the resource at a dotted path and print its value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Cancel()

			value, err := svc.FX().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), value)
		},
	}
}

func newManifestCmd(opts *options) *cobra.Command {
	var routes bool

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "List every declared resource path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Cancel()

			out := cmd.OutOrStdout()
			for _, path := range svc.Resolver().Leaves() {
				fmt.Fprintln(out, path)
			}
			if routes {
				for _, pattern := range svc.Router().Patterns() {
					fmt.Fprintln(out, pattern)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&routes, "routes", false, "also list mounted routes")
	return cmd
}

func loadService(ctx context.Context, opts *options) (*service.Service, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := service.NewService(ctx, opts.configPath)
	if err != nil {
		return nil, err
	}
	if err = svc.LoadManifests(); err != nil {
		svc.Cancel()
		return nil, err
	}
	return svc, nil
}

func printValue(w io.Writer, value interface{}) error {
	switch v := value.(type) {
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case []byte:
		_, err := fmt.Fprintln(w, string(v))
		return err
	}

	data, err := utils.Marshal(value)
	if err != nil {
		_, err = fmt.Fprintf(w, "%v\n", value)
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
