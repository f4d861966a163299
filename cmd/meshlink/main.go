package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpatterson/meshlink/internal/ble"
	"github.com/cpatterson/meshlink/internal/config"
	"github.com/cpatterson/meshlink/internal/delivery"
	"github.com/cpatterson/meshlink/internal/link"
	"github.com/cpatterson/meshlink/internal/protocol"
	"github.com/cpatterson/meshlink/internal/serialport"
	"github.com/cpatterson/meshlink/internal/session"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/meshlink/config.yaml)")
	device := flag.String("device", "", "BLE address override")
	port := flag.String("port", "", "serial port override (implies serial transport)")
	sendText := flag.String("send", "", "send a message and wait for delivery")
	sendTo := flag.String("to", "", "destination public key prefix (12 hex chars) for -send")
	channel := flag.Int("channel", -1, "channel index for -send (instead of -to)")
	listContacts := flag.Bool("contacts", false, "print the radio's contact list and exit")
	advert := flag.Bool("advert", false, "flood a self-advertisement on startup")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *device != "" {
		cfg.BLE.Address = *device
	}
	if *port != "" {
		cfg.Transport = "serial"
		cfg.Serial.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	lnk := buildLink(cfg)
	sess := session.New(lnk, session.Options{
		ClientID:       cfg.ClientID,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		fatal("connect", err)
	}
	defer sess.Stop()

	self := sess.SelfInfo()
	slog.Info("connected",
		"node", self.Name,
		"key", hex.EncodeToString(self.PublicKey[:protocol.KeyPrefixLen]))

	if info, err := sess.DeviceQuery(ctx); err == nil {
		slog.Info("device", "model", info.Model, "firmware", info.FirmwareBuild, "ver", info.FirmwareVer)
	}

	if *listContacts {
		if err := printContacts(ctx, sess); err != nil {
			fatal("contacts", err)
		}
		return
	}

	if *advert {
		if err := sess.SendAdvert(ctx, protocol.AdvertFlood); err != nil {
			slog.Warn("self advert failed", "error", err)
		} else {
			slog.Info("self advert flooded")
		}
	}

	engine := delivery.NewEngine(sess, delivery.Policy{
		MaxAttempts:      cfg.Delivery.MaxAttempts,
		FloodAfter:       cfg.Delivery.FloodAfter,
		MaxFloodAttempts: cfg.Delivery.MaxFloodAttempts,
		MinTimeout:       time.Duration(cfg.Delivery.MinTimeoutSecs) * time.Second,
	})
	go engine.Run(ctx)

	if *sendText != "" {
		if err := sendOnce(ctx, sess, engine, *sendTo, *channel, *sendText); err != nil {
			fatal("send", err)
		}
		return
	}

	listen(ctx, cfg, sess, engine)
}

// buildLink constructs the configured transport.
func buildLink(cfg *config.Config) link.Link {
	if cfg.Transport == "serial" {
		return serialport.NewTransport(serialport.Options{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
		})
	}
	return ble.NewTransport(ble.NewBluetoothAdapter(), ble.Options{
		Address:    cfg.BLE.Address,
		NamePrefix: cfg.BLE.NamePrefix,
	})
}

// sendOnce delivers one message. Direct sends go through the delivery
// engine so acks, retries and flood fallback apply; channel sends are
// fire-and-forget by design.
func sendOnce(ctx context.Context, sess *session.Session, engine *delivery.Engine, to string, channel int, text string) error {
	if channel >= 0 {
		if err := sess.SendChannelMessage(ctx, byte(channel), text); err != nil {
			return err
		}
		slog.Info("channel message sent", "channel", channel)
		return nil
	}

	dest, err := parsePrefix(to)
	if err != nil {
		return err
	}

	// Confirm pushes arrive on the event stream; feed them to the engine
	// while the send is in flight.
	events, cancel := sess.Events()
	defer cancel()
	go func() {
		for ev := range events {
			if ack, ok := ev.(protocol.DeliveryConfirmed); ok {
				engine.Confirm(ack)
			}
		}
	}()

	rcpt, err := engine.Send(ctx, dest, text)
	if err != nil {
		return err
	}
	slog.Info("delivered",
		"attempts", rcpt.Attempts,
		"flooded", rcpt.Flooded,
		"round_trip", rcpt.RoundTrip)
	return nil
}

// listen runs the interactive event loop until interrupted: inbound
// messages are drained, de-duplicated and printed, delivery confirms are
// routed to the engine, and the battery is polled in the background.
func listen(ctx context.Context, cfg *config.Config, sess *session.Session, engine *delivery.Engine) {
	events, cancel := sess.Events()
	defer cancel()

	// Sender prefixes are opaque; a contact sync up front lets the loop
	// print names instead.
	names := make(map[string]string)
	if contacts, err := sess.Contacts(ctx, time.Time{}); err == nil {
		for _, c := range contacts {
			prefix := c.KeyPrefix()
			names[hex.EncodeToString(prefix[:])] = c.Name
		}
		slog.Info("contacts synced", "count", len(contacts))
	} else {
		slog.Warn("contact sync failed", "error", err)
	}

	var batteryTick <-chan time.Time
	if cfg.BatteryPollSecs > 0 {
		ticker := time.NewTicker(time.Duration(cfg.BatteryPollSecs) * time.Second)
		defer ticker.Stop()
		batteryTick = ticker.C
	}

	// Pick up anything queued while we were offline.
	drain(ctx, sess)

	slog.Info("listening, Ctrl+C to quit")
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return

		case ev, ok := <-events:
			if !ok {
				slog.Info("session ended")
				return
			}
			handleEvent(ctx, sess, engine, names, ev)

		case <-batteryTick:
			go func() {
				bat, err := sess.Battery(ctx)
				if err != nil {
					slog.Warn("battery poll failed", "error", err)
					return
				}
				slog.Info("battery", "millivolts", bat.Millivolts)
			}()
		}
	}
}

func handleEvent(ctx context.Context, sess *session.Session, engine *delivery.Engine, names map[string]string, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.MessagesWaiting:
		go drain(ctx, sess)

	case protocol.ContactMessage:
		if engine.Dedup().SeenContactMessage(e) {
			slog.Debug("duplicate direct message dropped",
				"sender", hex.EncodeToString(e.SenderPrefix[:]))
			return
		}
		sender := hex.EncodeToString(e.SenderPrefix[:])
		if name, ok := names[sender]; ok {
			sender = name
		}
		fmt.Printf("[%s] <%s> %s\n",
			time.Unix(int64(e.Timestamp), 0).Format("15:04:05"),
			sender, e.Text)

	case protocol.ChannelMessage:
		if engine.Dedup().SeenChannelMessage(e) {
			slog.Debug("duplicate channel message dropped", "channel", e.Channel)
			return
		}
		fmt.Printf("[%s] #%d %s\n",
			time.Unix(int64(e.Timestamp), 0).Format("15:04:05"),
			e.Channel, e.Text)

	case protocol.DeliveryConfirmed:
		if !engine.Confirm(e) {
			slog.Debug("stale delivery confirm", "ack_code", e.AckCode)
		}

	case protocol.Advert:
		slog.Info("advert heard",
			"key", hex.EncodeToString(e.PublicKey[:protocol.KeyPrefixLen]))

	case protocol.PathUpdated:
		slog.Info("path updated", "contact", hex.EncodeToString(e.KeyPrefix[:]))

	case protocol.BatteryStatus:
		slog.Info("battery", "millivolts", e.Millivolts)

	case protocol.LogRxData:
		slog.Debug("rx", "snr", e.SNR, "rssi", e.RSSI, "len", len(e.Payload))
	}
}

func drain(ctx context.Context, sess *session.Session) {
	n, err := sess.DrainWaitingMessages(ctx)
	if err != nil {
		slog.Warn("message drain failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("drained queued messages", "count", n)
	}
}

func printContacts(ctx context.Context, sess *session.Session) error {
	contacts, err := sess.Contacts(ctx, time.Time{})
	if err != nil {
		return err
	}
	fmt.Printf("%-14s %-10s %-20s %s\n", "PREFIX", "TYPE", "NAME", "LAST ADVERT")
	for _, c := range contacts {
		prefix := c.KeyPrefix()
		fmt.Printf("%-14s %-10s %-20s %s\n",
			hex.EncodeToString(prefix[:]),
			c.Type,
			c.Name,
			c.LastAdvert.Format(time.RFC3339))
	}
	return nil
}

// parsePrefix decodes a 6-byte public key prefix from hex.
func parsePrefix(s string) ([protocol.KeyPrefixLen]byte, error) {
	var prefix [protocol.KeyPrefixLen]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != protocol.KeyPrefixLen {
		return prefix, fmt.Errorf("destination must be %d hex characters, got %q", protocol.KeyPrefixLen*2, s)
	}
	copy(prefix[:], raw)
	return prefix, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "meshlink: %s: %v\n", what, err)
	os.Exit(1)
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== meshlink ===")
	if cfg.Transport == "serial" {
		fmt.Printf("  Link:     serial %s @%d\n", cfg.Serial.Port, cfg.Serial.BaudRate)
	} else if cfg.BLE.Address != "" {
		fmt.Printf("  Link:     ble %s\n", cfg.BLE.Address)
	} else {
		fmt.Printf("  Link:     ble scan %q*\n", cfg.BLE.NamePrefix)
	}
	fmt.Printf("  Client:   %s\n", cfg.ClientID)
	fmt.Printf("  Delivery: %d attempts, flood after %d\n",
		cfg.Delivery.MaxAttempts, cfg.Delivery.FloodAfter)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}
