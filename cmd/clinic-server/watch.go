package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinic/pkg/queueclient"
)

// watchCmd follows one doctor's live queue from a terminal, for front-desk
// screens and for checking a deployment.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <doctor-id>",
		Short: "Print a doctor's live queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")

			opts := []queueclient.Option{
				queueclient.WithLogger(zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()),
			}
			if token != "" {
				opts = append(opts, queueclient.WithToken(token))
			}
			client, err := queueclient.New(server, args[0], opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return client.Run(ctx, func(s queueclient.Snapshot) {
				fmt.Fprintf(out, "%s  %s  waiting=%d in_consultation=%d\n",
					s.GeneratedAt.Format("15:04:05"), s.Day, s.Waiting, s.InConsultation)
				for _, e := range s.Entries {
					fmt.Fprintf(out, "  %3d  #%-4d %-16s %-13s %s\n", e.QueuePosition, e.SerialNumber, e.Status, e.PatientCode, e.PatientName)
				}
			})
		},
	}
	cmd.Flags().String("server", "http://localhost:8000", "Base URL of the clinic server")
	cmd.Flags().String("token", "", "Bearer token for the stream")
	return cmd
}
