package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openwash/fleetd/config"
	"github.com/openwash/fleetd/core/command"
	"github.com/openwash/fleetd/core/model"
	"github.com/openwash/fleetd/core/transport"
	"github.com/openwash/fleetd/infra/logger"
	"github.com/openwash/fleetd/infra/mqtt"
)

var (
	sendKind    string
	sendPayload string
	sendNoAck   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <device-id>",
	Short: "Send a command to a device and wait for its acknowledgment",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendKind, "kind", "k", string(model.CommandRestart), "command kind")
	sendCmd.Flags().StringVarP(&sendPayload, "payload", "p", "{}", "command payload as JSON")
	sendCmd.Flags().BoolVar(&sendNoAck, "no-ack", false, "do not wait for an acknowledgment")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(sendPayload), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	logg := logger.New("send-command")
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Close()

	disp, err := command.New(client, logg)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	err = client.Subscribe(transport.AckFilter, func(msg transport.Message) {
		deviceID, ok := transport.DeviceID(msg.Topic)
		if !ok {
			return
		}
		var ack model.AckMessage
		if err := json.Unmarshal(msg.Payload, &ack); err != nil || ack.CommandID == "" {
			return
		}
		disp.Resolve(deviceID, ack.CommandID, ack.Payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe acks: %w", err)
	}

	handle, err := disp.Send(args[0], model.CommandKind(sendKind), payload, command.SendOptions{NoAck: sendNoAck})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	res, err := handle.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("command %s: %s", res.CommandID, res.State)
	if res.Err != nil {
		fmt.Printf(" (%v)", res.Err)
	}
	fmt.Println()
	if res.State != model.CommandAcked {
		return fmt.Errorf("command not acknowledged")
	}
	return nil
}
