package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-tds/bridge/mqtt"
	"github.com/arloliu/go-tds/client"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

func parseDevice(fnArg, numArg string) (profile.Function, int, error) {
	fn, err := profile.ParseFunction(fnArg)
	if err != nil {
		return 0, 0, err
	}

	number, err := strconv.Atoi(numArg)
	if err != nil || number < 0 {
		return 0, 0, fmt.Errorf("invalid output number %q", numArg)
	}

	return fn, number, nil
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <function> <number>",
		Short: "Read the state of one output",
		Example: `  tdsctl get relay 3
  tdsctl get dimmer 12 --config /etc/tds.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, number, err := parseDevice(args[0], args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := flags.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			state, err := s.client.Get(ctx, fn, number)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s/%d=%s\n", fn, number, state)

			return nil
		},
	}
}

func newSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <function> <number> <state>",
		Short: "Change the state of one output and wait for confirmation",
		Long: `Send a SET and wait until the central unit reports the new state on its
event channel. States are ON, OFF, UP, DOWN, STOP, TOGGLE or a level 0-255.`,
		Example: `  tdsctl set relay 3 on
  tdsctl set motor 1 down
  tdsctl set dimmer 12 40`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, number, err := parseDevice(args[0], args[1])
			if err != nil {
				return err
			}

			state, err := profile.ParseState(args[2])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := flags.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if err := s.client.Set(ctx, fn, number, state); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s/%d=%s confirmed\n", fn, number, state)

			return nil
		},
	}
}

func newGroupGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "group-get <function> [number...]",
		Short: "Read several outputs of one function",
		Long: `Read the given outputs one after the other. Without numbers every
configured component of the function is read.`,
		Example: `  tdsctl group-get relay 1 2 3
  tdsctl group-get motor`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := profile.ParseFunction(args[0])
			if err != nil {
				return err
			}

			numbers := make([]int, 0, len(args)-1)
			for _, arg := range args[1:] {
				_, n, err := parseDevice(args[0], arg)
				if err != nil {
					return err
				}
				numbers = append(numbers, n)
			}

			ctx := cmd.Context()
			s, err := flags.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			var readings []client.Reading
			if len(numbers) == 0 {
				readings, err = s.client.GroupGetAll(ctx, fn)
			} else {
				readings, err = s.client.GroupGet(ctx, fn, numbers...)
			}

			for _, r := range readings {
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
			}

			return err
		},
	}
}

func newMonitorCmd(flags *globalFlags) *cobra.Command {
	var withMQTT bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print state changes until interrupted",
		Long: `Connect, subscribe to the monitored functions and print every state
change reported by the central unit. With --mqtt the changes are also published
to the broker of the configuration and set commands are accepted from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := flags.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			out := cmd.OutOrStdout()
			s.client.RegisterListener(func(batch []*registry.Device) {
				for _, d := range batch {
					fmt.Fprintln(out, d.String())
				}
			})

			if withMQTT || s.cfg.MQTT.Enabled {
				b, err := startBridge(s)
				if err != nil {
					return err
				}
				defer b.Stop()
			}

			select {
			case <-ctx.Done():
				return nil
			case <-s.client.Engine().Done():
				return s.client.Engine().Err()
			}
		},
	}

	cmd.Flags().BoolVar(&withMQTT, "mqtt", false, "Bridge state changes and commands to MQTT")

	return cmd
}

func startBridge(s *session) (*mqtt.Bridge, error) {
	mc := s.cfg.MQTT
	if mc.Broker == "" {
		return nil, errors.New("mqtt.broker is not configured")
	}

	bcfg := mqtt.Config{
		Broker:      mc.Broker,
		ClientID:    mc.ClientID,
		Username:    mc.Username,
		Password:    mc.Password,
		TopicPrefix: mc.TopicPrefix,
		QoS:         byte(mc.QoS),
	}

	pc, err := mqtt.Dial(bcfg)
	if err != nil {
		return nil, err
	}

	b, err := mqtt.New(pc, s.client, bcfg, s.logger)
	if err != nil {
		pc.Disconnect(0)
		return nil, err
	}

	if err := b.Start(); err != nil {
		pc.Disconnect(0)
		return nil, err
	}
	s.client.RegisterListener(b.OnStateChange)

	return b, nil
}
