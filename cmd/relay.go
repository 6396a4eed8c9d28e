// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/internal/relay"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

var (
	relayBroker  string
	relayPrefix  string
	relayUplink  bool
	relayInvalid bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish received datagrams to MQTT",
	Long: `Decode datagrams from the link and publish each one as a JSON document.

Datagrams are published to <prefix>/<stream>, for example skylink/attitude or
skylink/gps. Each document carries the stream name, arrival time, checksum,
decoded fields and any anomalies found by validation.

With --uplink, text commands published to <prefix>/uplink are sent to the
vehicle: "ignite", a state name such as "open-fill-valve", or "raw:<code>".

Broker, client id, topic prefix, QoS and timeout come from the [mqtt] section
of the config file.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayBroker, "broker", "", "MQTT broker URL (overrides config)")
	relayCmd.Flags().StringVar(&relayPrefix, "prefix", "", "Topic prefix (overrides config)")
	relayCmd.Flags().BoolVar(&relayUplink, "uplink", false, "Forward commands from <prefix>/uplink to the vehicle")
	relayCmd.Flags().BoolVar(&relayInvalid, "include-invalid", false, "Also publish datagrams that fail validation")
}

func runRelay(cmd *cobra.Command, args []string) error {
	mqttCfg := cfg.MQTT
	if relayBroker != "" {
		mqttCfg.Broker = relayBroker
	}
	if relayPrefix != "" {
		mqttCfg.TopicPrefix = relayPrefix
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	stopMetrics := startMetrics()
	defer stopMetrics()

	opts := mqtt.NewClientOptions().
		AddBroker(mqttCfg.Broker).
		SetClientID(mqttCfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttCfg.Timeout).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Str("broker", mqttCfg.Broker).Msg("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		})
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttCfg.Timeout) {
		return errors.Timeoutf("mqtt connect to %s", mqttCfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "mqtt connect to %s", mqttCfg.Broker)
	}
	defer client.Disconnect(250)

	r := relay.New(client, mqttCfg, logger)

	if relayUplink {
		var writeMu sync.Mutex
		err := r.SubscribeUplink(func(d *skylink.Datagram) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			n, err := conn.Write(d.Bytes())
			observability.RecordLinkBytes("tx", n)
			return err
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("Skylink - MQTT Relay\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Broker: %s (topics %s)\n", mqttCfg.Broker, r.Topic("<stream>"))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	linkDone := make(chan error, 1)
	go func() {
		linkDone <- decodeLink(conn, linkEvents{
			Packet: func(p *skylink.Packet) {
				if !relayInvalid && len(skylink.ValidatePacket(p)) > 0 {
					observability.RecordGroundPacket(skylink.StreamName(p.Type()), "invalid")
					return
				}
				if err := r.Publish(p); err != nil {
					logger.Warn().Err(err).Msg("publish failed")
				}
			},
			Error: func(err error) { logger.Debug().Err(err).Msg("decode") },
		})
	}()

	sigs, stopSignals := interrupted()
	defer stopSignals()

	select {
	case <-sigs:
	case err := <-linkDone:
		if err != nil {
			logger.Error().Err(err).Msg("link failed")
		}
	}

	fmt.Printf("\nPublished %d datagrams\n", r.Published())
	return nil
}
