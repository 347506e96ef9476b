package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// ModemManagerSource enumerates cards by shelling out to mmcli. Any
// failure (binary missing, daemon not running, polkit denial) is reported
// as an error so the registry treats the pass as "unknown".
type ModemManagerSource struct {
	timeout time.Duration
}

// NewModemManagerSource creates an mmcli-backed card source.
func NewModemManagerSource(timeout time.Duration) *ModemManagerSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ModemManagerSource{timeout: timeout}
}

type mmModemList struct {
	Modems []string `json:"modem-list"`
}

type mmModem struct {
	Modem struct {
		Generic struct {
			Sim            string   `json:"sim"`
			PrimarySimSlot string   `json:"primary-sim-slot"`
			OwnNumbers     []string `json:"own-numbers"`
		} `json:"generic"`
		ThreeGPP struct {
			OperatorName string `json:"operator-name"`
		} `json:"3gpp"`
	} `json:"modem"`
}

type mmSim struct {
	Sim struct {
		Properties struct {
			ICCID        string `json:"iccid"`
			OperatorName string `json:"operator-name"`
		} `json:"properties"`
	} `json:"sim"`
}

// ActiveCards lists the currently inserted cards.
func (s *ModemManagerSource) ActiveCards(ctx context.Context) ([]types.CardInfo, error) {
	if _, err := exec.LookPath("mmcli"); err != nil {
		return nil, fmt.Errorf("mmcli not available: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "mmcli", "-J", "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list modems: %w", err)
	}

	var list mmModemList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to parse modem list: %w", err)
	}

	var cards []types.CardInfo
	for _, modemPath := range list.Modems {
		card, err := s.readModem(ctx, modemPath)
		if err != nil {
			// One unreadable modem should not hide the others.
			logrus.WithError(err).WithField("modem", modemPath).Warn("Failed to read modem")
			continue
		}
		if card != nil {
			cards = append(cards, *card)
		}
	}

	return cards, nil
}

func (s *ModemManagerSource) readModem(ctx context.Context, modemPath string) (*types.CardInfo, error) {
	out, err := exec.CommandContext(ctx, "mmcli", "-J", "-m", modemPath).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query modem: %w", err)
	}

	var modem mmModem
	if err := json.Unmarshal(out, &modem); err != nil {
		return nil, fmt.Errorf("failed to parse modem: %w", err)
	}

	simPath := modem.Modem.Generic.Sim
	if simPath == "" || simPath == "--" {
		// Modem without an inserted card.
		return nil, nil
	}

	card := types.CardInfo{
		SubscriptionID: trailingIndex(modemPath),
		Slot:           parseSlot(modem.Modem.Generic.PrimarySimSlot),
		CarrierName:    modem.Modem.ThreeGPP.OperatorName,
	}
	if len(modem.Modem.Generic.OwnNumbers) > 0 {
		card.DetectedNumber = modem.Modem.Generic.OwnNumbers[0]
	}

	simOut, err := exec.CommandContext(ctx, "mmcli", "-J", "-i", simPath).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query sim: %w", err)
	}

	var sim mmSim
	if err := json.Unmarshal(simOut, &sim); err != nil {
		return nil, fmt.Errorf("failed to parse sim: %w", err)
	}

	card.SerialNumber = sim.Sim.Properties.ICCID
	if card.CarrierName == "" {
		card.CarrierName = sim.Sim.Properties.OperatorName
	}

	return &card, nil
}

// trailingIndex extracts the numeric index from a DBus object path such as
// /org/freedesktop/ModemManager1/Modem/3.
func trailingIndex(path string) int {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	if len(parts) == 0 {
		return -1
	}
	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return -1
	}
	return idx
}

func parseSlot(raw string) int {
	slot, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return slot
}
