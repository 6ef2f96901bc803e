// Command squidnode runs a simulated squidboot device on a serial port.
//
// Usage:
//
//	squidnode serve --port /dev/ttyUSB1 [--config node.yaml]
//	squidnode config > node.yaml
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/amrbekhit/squidboot/node"
)

const appVersion = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "squidnode",
		Usage:   "Simulated squidboot device",
		Version: appVersion,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			node.SetLogger(log.StandardLogger())
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			configCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the bootloader protocol on a serial port",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Node config yaml file; see the config command",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Serial port name, overriding the config file",
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate, overriding the config file",
			},
			&cli.BoolFlag{
				Name:  "exit-on-boot",
				Usage: "Stop serving once the application is booted",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Serial.Port = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.Serial.Baud = c.Int("baud")
	}
	if cfg.Serial.Port == "" {
		return cli.Exit("must specify port", 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitOnBoot := c.Bool("exit-on-boot")
	dev, err := cfg.open(node.SystemFunc(func() {
		log.Infof("booting application at %X", cfg.Parameters.ValidAppRange.Start)
		if exitOnBoot {
			cancel()
		}
	}))
	if err != nil {
		return err
	}
	defer dev.Close()

	port, err := openSerial(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", cfg.Serial.Port)
	}
	defer port.Close()

	p := cfg.Parameters
	log.Infof("serving on %s at %d baud, app range %v", cfg.Serial.Port, cfg.Serial.Baud, p.ValidAppRange)
	err = dev.node.Serve(ctx, port)
	if errors.Is(err, context.Canceled) {
		log.Infof("stopped")
		return nil
	}
	return err
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the default node config as yaml",
		Action: func(c *cli.Context) error {
			return defaultConfig().write(os.Stdout)
		},
	}
}
