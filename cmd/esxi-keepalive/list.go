package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fgeck/esxi-keepalive/internal/services/esxi"
	"github.com/fgeck/esxi-keepalive/internal/services/filter"
	"github.com/fgeck/esxi-keepalive/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var showState bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs on the hypervisor and whether they are targets",
	Long: `List every VM reported by the hypervisor together with the target policy
verdict. With --state, the power state of each target is queried as well.
Nothing is powered on.`,
	RunE: listVMs,
}

func init() {
	listCmd.Flags().BoolVar(&showState, "state", false, "query the power state of target VMs")
}

func listVMs(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadSetup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	creds, err := loadCredentials(ctx, loader)
	if err != nil {
		return err
	}

	esxiSvc := esxi.New(log.Logger, ssh.New(log.Logger, cfg.SSH))
	matcher := filter.New(cfg.Target)

	vms, result := esxiSvc.ListVMs(ctx, *creds)
	if !result.Ok() {
		return fmt.Errorf("listing VMs: %w", result.Error)
	}

	fmt.Printf("%-8s %-32s %-7s %s\n", "ID", "NAME", "TARGET", "STATE")
	for _, id := range slices.Sorted(maps.Keys(vms)) {
		name := vms[id]
		target := matcher.IsTarget(name)

		state := "-"
		if showState && target {
			res := esxiSvc.PowerState(ctx, *creds, id)
			switch {
			case !res.Ok():
				state = "unknown"
			case esxi.IsPoweredOff(res.Output):
				state = esxi.PoweredOffPhrase
			default:
				state = lastLine(res.Output)
			}
		}

		fmt.Printf("%-8s %-32s %-7v %s\n", id, name, target, state)
	}

	return nil
}

// lastLine returns the final line of power.getstate output, which holds the state.
func lastLine(s string) string {
	return s[strings.LastIndex(s, "\n")+1:]
}
