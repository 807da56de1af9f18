package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/hubsync/internal/config"
	"github.com/zeusync/hubsync/internal/core/events"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/injector"
)

type watchOptions struct {
	imodel       string
	baseAddress  string
	subscription string
	token        string
	limit        int
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print push notifications received for an existing subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, err := injector.InitializeLogger(cfg)
			if err != nil {
				return err
			}
			dial, err := injector.ProvideDialer(cfg, logger)
			if err != nil {
				return err
			}
			if err := opts.resolve(cfg); err != nil {
				return err
			}
			return watch(cmd.Context(), dial, opts, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.imodel, "imodel", "", "iModel id the subscription belongs to; defaults to hub.imodel_id")
	cmd.Flags().StringVar(&opts.baseAddress, "base-address", "", "Notification endpoint returned with the access token; defaults to hub.url")
	cmd.Flags().StringVar(&opts.subscription, "subscription", "", "Subscription id")
	cmd.Flags().StringVar(&opts.token, "token", "", "Access token for the notification endpoint")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Stop after this many events; 0 watches until interrupted")
	_ = cmd.MarkFlagRequired("subscription")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

// resolve fills unset flags from the configuration.
func (o *watchOptions) resolve(cfg *config.Config) error {
	if o.imodel == "" {
		o.imodel = cfg.Hub.IModelID
	}
	if o.baseAddress == "" {
		o.baseAddress = cfg.Hub.URL
	}
	if o.baseAddress == "" {
		return errors.New("no notification endpoint: set --base-address or hub.url")
	}
	return nil
}

func watch(ctx context.Context, dial events.Dialer, opts *watchOptions, out io.Writer, logger log.Log) error {
	client, err := dial(ctx, events.SASToken{Token: opts.token, BaseAddress: opts.baseAddress}, opts.subscription)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	logger.Info("watching events",
		log.String("imodel", opts.imodel),
		log.String("subscription", opts.subscription))

	seen := 0
	for opts.limit == 0 || seen < opts.limit {
		msg, err := client.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case hub.HasID(err, hub.NoEventsFound):
			continue
		case err != nil:
			return err
		}

		evt, err := events.Parse(msg.ContentType, msg.Body)
		if errors.Is(err, events.ErrUnknownEvent) {
			logger.Debug("skipping unknown event", log.String("content_type", msg.ContentType))
			continue
		}
		if err != nil {
			return err
		}
		seen++
		fmt.Fprintf(out, "%s\tbriefcase=%d\tchangeset=%s\tindex=%d\tversion=%s\n",
			evt.Type, evt.BriefcaseID, evt.ChangeSetID, evt.ChangeSetIndex, evt.VersionID)
	}
	return nil
}
