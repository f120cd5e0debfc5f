package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hotelhub/roomheating-exporter/internal/control"
	"github.com/hotelhub/roomheating-exporter/internal/heating"
	"github.com/hotelhub/roomheating-exporter/internal/hub"
	"github.com/hotelhub/roomheating-exporter/internal/rooms"
)

var errUsage = errors.New("usage")

// heatingAPI is the part of heating.Service used by the one shot commands.
type heatingAPI interface {
	Rooms(ctx context.Context, location string, caps heating.Capabilities) (*heating.RoomList, error)
	RoomDetail(ctx context.Context, location, roomID string, caps heating.Capabilities) (*rooms.RoomDetail, error)
	SetTemperature(ctx context.Context, location, entityID string, temperature float64, caps heating.Capabilities) (control.Result, error)
	SetAllTemperatures(ctx context.Context, location string, entityIDs []string, temperature float64, caps heating.Capabilities) (control.BatchResult, error)
	TestConnection(ctx context.Context, location string) (hub.ConnectionResult, error)
}

// runCommand executes a one shot command and writes its JSON result to out.
func runCommand(ctx context.Context, api heatingAPI, caps heating.Capabilities, loc string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "rooms":
		list, err := api.Rooms(ctx, loc, caps)
		if err != nil {
			return err
		}
		return printJSON(out, list)

	case "room":
		if len(rest) != 1 {
			return fmt.Errorf("%w: room <room_id>", errUsage)
		}
		detail, err := api.RoomDetail(ctx, loc, rest[0], caps)
		if err != nil {
			return err
		}
		return printJSON(out, detail)

	case "test":
		res, err := api.TestConnection(ctx, loc)
		if err != nil {
			return err
		}
		if err := printJSON(out, res); err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Message)
		}
		return nil

	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("%w: set <entity_id> <temperature>", errUsage)
		}
		temp, err := parseTemperature(rest[1])
		if err != nil {
			return err
		}
		res, err := api.SetTemperature(ctx, loc, rest[0], temp, caps)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "set-all":
		if len(rest) < 2 {
			return fmt.Errorf("%w: set-all <temperature> <entity_id>...", errUsage)
		}
		temp, err := parseTemperature(rest[0])
		if err != nil {
			return err
		}
		res, err := api.SetAllTemperatures(ctx, loc, rest[1:], temp, caps)
		if err != nil {
			return err
		}
		errs := make(map[string]string, len(res.Errors))
		for id, e := range res.Errors {
			errs[id] = e.Error()
		}
		return printJSON(out, struct {
			control.BatchResult
			Errors map[string]string `json:"errors,omitempty"`
		}{res, errs})

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func parseTemperature(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature %q is not a number", errUsage, s)
	}
	return v, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
