package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudcutter/internal/apcfg"
	"cloudcutter/internal/apnet"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
)

func newProvisionCmd() *cobra.Command {
	var (
		iface        string
		uuid         string
		authKey      string
		psk          string
		ssid         string
		password     string
		benign       bool
		addrFinish   string
		addrSSID     string
		addrPasswd   string
		addrDatagram string
		addrPadding  int
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Scan for a pairing AP, associate, and push a crafted or benign payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			log := logging.Default().WithComponent("cmd")

			if uuid == "" || authKey == "" {
				return fmt.Errorf("--uuid and --auth-key are required")
			}

			var payload, addressDatagram []byte
			var err error
			if benign {
				payload, err = apcfg.WifiNetworkPayload(ssid, password, nil)
				if err != nil {
					return fmt.Errorf("build wifi network payload: %w", err)
				}
			} else {
				params := apcfg.ClassicProfileParams{
					AddressFinish:      addrFinish,
					AddressSSID:        addrSSID,
					AddressPasswd:      addrPasswd,
					AddressDatagram:    addrDatagram,
					AddressSSIDPadding: addrPadding,
				}
				payload, addressDatagram, err = apcfg.ClassicProfilePayload(params, uuid, authKey, psk)
				if err != nil {
					return fmt.Errorf("build classic profile payload: %w", err)
				}
			}

			bus := events.NewBus()
			logEvents(bus, log)

			wifi := apnet.NewLinuxWifiAdapter()
			network := apnet.NewLinuxNetworkAdapter()
			client := apcfg.NewClient(wifi, network, bus, apnet.Interface{Name: iface, Type: apnet.TypeWireless})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Run(ctx, payload, addressDatagram); err != nil {
				return fmt.Errorf("provision: %w", err)
			}
			log.Info("provisioning complete", "uuid", uuid)
			return nil
		},
	}

	cmd.Flags().StringVar(&iface, "interface", "wlan0", "wireless interface to drive")
	cmd.Flags().StringVar(&uuid, "uuid", "", "device uuid (required)")
	cmd.Flags().StringVar(&authKey, "auth-key", "", "device auth key (required)")
	cmd.Flags().StringVar(&psk, "psk", "", "device PSK identity, if known")
	cmd.Flags().StringVar(&ssid, "ssid", "", "home network SSID (benign provisioning)")
	cmd.Flags().StringVar(&password, "password", "", "home network password (benign provisioning)")
	cmd.Flags().BoolVar(&benign, "benign", false, "send a plain credential handoff instead of the classic exploit profile")

	cmd.Flags().StringVar(&addrFinish, "address-finish", "", "classic profile: firmware address of the activation-finish flag")
	cmd.Flags().StringVar(&addrSSID, "address-ssid", "", "classic profile: firmware address the overwritten ssid lands on")
	cmd.Flags().StringVar(&addrPasswd, "address-passwd", "", "classic profile: firmware address the overwritten passwd lands on")
	cmd.Flags().StringVar(&addrDatagram, "address-datagram", "", "classic profile: firmware address the raw datagram is padded against")
	cmd.Flags().IntVar(&addrPadding, "address-ssid-padding", 0, "classic profile: bytes of padding before the overwritten ssid")

	return cmd
}

// logEvents subscribes to the bus and logs every provisioning-phase
// event at info level, giving the CLI something to print while Run's
// scan/associate/ping loop is otherwise silent.
func logEvents(bus *events.Bus, log *logging.Logger) {
	ch, _ := events.Subscribe[events.Event](bus, 16)
	go func() {
		for e := range ch {
			log.Info("event", "type", fmt.Sprintf("%T", e))
		}
	}()
}
