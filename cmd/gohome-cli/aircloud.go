package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/rpc"
	"github.com/joshp123/gohome-aircloud/plugins/aircloud"
)

func aircloudMethod(name string) string {
	return "/" + aircloud.ServiceName + "/" + name
}

func aircloudCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		aircloudUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "units", "list":
		resp := listUnits(ctx, conn)
		if out.json {
			out.printJSON(resp)
			return
		}
		out.table(unitRows(resp.Units))
	case "show":
		requireArgs(args, 2, "show <unit>")
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, "GetUnit", aircloud.UnitRequest{UnitID: resolveUnit(ctx, conn, args[1])}, &view)
		printView(out, view)
	case "mode", "set-mode":
		requireArgs(args, 3, "mode <unit> <off|heat|cool|auto|dry|fan_only>")
		req := aircloud.SetHVACModeRequest{UnitID: resolveUnit(ctx, conn, args[1]), HVACMode: strings.ToLower(args[2])}
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, "SetHVACMode", req, &view)
		printView(out, view)
	case "fan", "set-fan":
		requireArgs(args, 3, "fan <unit> <mode>")
		req := aircloud.SetFanModeRequest{UnitID: resolveUnit(ctx, conn, args[1]), FanMode: strings.ToUpper(args[2])}
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, "SetFanMode", req, &view)
		printView(out, view)
	case "swing", "set-swing":
		requireArgs(args, 3, "swing <unit> <mode>")
		req := aircloud.SetSwingModeRequest{UnitID: resolveUnit(ctx, conn, args[1]), SwingMode: strings.ToUpper(args[2])}
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, "SetSwingMode", req, &view)
		printView(out, view)
	case "set", "temp", "set-temp":
		requireArgs(args, 3, "set <unit> <temp> [mode]")
		temp, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fatal("aircloud set", fmt.Errorf("invalid temperature %q", args[2]))
		}
		req := aircloud.SetTemperatureRequest{UnitID: resolveUnit(ctx, conn, args[1]), Temperature: &temp}
		if len(args) > 3 {
			req.HVACMode = strings.ToLower(args[3])
		}
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, "SetTemperature", req, &view)
		printView(out, view)
	case "on", "off":
		requireArgs(args, 2, args[0]+" <unit>")
		method := "TurnOn"
		if args[0] == "off" {
			method = "TurnOff"
		}
		var view aircloud.UnitView
		invokeAirCloud(ctx, conn, method, aircloud.UnitRequest{UnitID: resolveUnit(ctx, conn, args[1])}, &view)
		printView(out, view)
	case "refresh":
		var resp aircloud.RefreshResponse
		invokeAirCloud(ctx, conn, "Refresh", struct{}{}, &resp)
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ACCOUNT", "POLLS", "FAILURES", "LAST ERROR"}}
		for account, st := range resp.Accounts {
			rows = append(rows, []string{account, strconv.Itoa(st.Polls), strconv.Itoa(st.ConsecutiveFailures), st.LastError})
		}
		out.table(rows)
	case "login":
		requireArgs(args, 3, "login <email> <password-file>")
		password, err := config.ReadSecretFile(args[2])
		if err != nil {
			fatal("aircloud login", err)
		}
		var result aircloud.FlowResult
		invokeAirCloud(ctx, conn, "ValidateLogin", aircloud.ValidateLoginRequest{Email: args[1], Password: password}, &result)
		if out.json {
			out.printJSON(result)
			return
		}
		fmt.Println(describeFlow(result))
	default:
		aircloudUsage()
		os.Exit(2)
	}
}

func invokeAirCloud(ctx context.Context, conn *grpc.ClientConn, method string, in, out any) {
	if err := rpc.Invoke(ctx, conn, aircloudMethod(method), in, out); err != nil {
		fatal("aircloud "+method, err)
	}
}

func listUnits(ctx context.Context, conn *grpc.ClientConn) aircloud.ListUnitsResponse {
	var resp aircloud.ListUnitsResponse
	invokeAirCloud(ctx, conn, "ListUnits", struct{}{}, &resp)
	return resp
}

// resolveUnit accepts a numeric unit id or a unit name.
func resolveUnit(ctx context.Context, conn *grpc.ClientConn, input string) int {
	if id, err := strconv.Atoi(input); err == nil {
		return id
	}
	units := listUnits(ctx, conn).Units
	id, err := resolveUnitName(input, units)
	if err != nil {
		fatal("aircloud", err)
	}
	return id
}

func resolveUnitName(input string, units []aircloud.UnitView) (int, error) {
	options := make(map[string]string, len(units))
	for _, view := range units {
		options[view.Unit.Name] = strconv.Itoa(view.UnitID)
	}
	raw, err := resolveNamedID("unit", input, options)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func unitRows(units []aircloud.UnitView) [][]string {
	rows := [][]string{{"ID", "UNIT", "ACCOUNT", "MODE", "ROOM", "TARGET", "FAN", "SWING"}}
	for _, view := range units {
		row := []string{strconv.Itoa(view.UnitID), view.Unit.Name, view.Account}
		if view.State == nil {
			rows = append(rows, append(row, "error: "+view.Error, "", "", "", ""))
			continue
		}
		state := view.State
		mode := string(state.HVACMode)
		if !state.Available {
			mode = "unavailable"
		}
		rows = append(rows, append(row, mode, formatTemp(state.CurrentTemperature), formatTemp(state.TargetTemperature), state.FanMode, state.SwingMode))
	}
	return rows
}

func formatTemp(value *float64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatFloat(*value, 'f', 1, 64)
}

func printView(out outputMode, view aircloud.UnitView) {
	if out.json {
		out.printJSON(view)
		return
	}
	out.table(unitRows([]aircloud.UnitView{view}))
}

func describeFlow(result aircloud.FlowResult) string {
	switch {
	case result.Entry != nil:
		return fmt.Sprintf("ok: %s", result.Entry.Title)
	case result.Reason != "":
		return "aborted: " + result.Reason
	case len(result.Errors) > 0:
		parts := make([]string, 0, len(result.Errors))
		for field, code := range result.Errors {
			parts = append(parts, field+"="+code)
		}
		return "errors: " + strings.Join(parts, ", ")
	default:
		return result.Type
	}
}

func requireArgs(args []string, n int, usageLine string) {
	if len(args) < n {
		fatal("aircloud", fmt.Errorf("usage: gohome-cli aircloud %s", usageLine))
	}
}

func aircloudUsage() {
	fmt.Println("gohome-cli aircloud <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  units")
	fmt.Println("  show <unit>")
	fmt.Println("  mode <unit> <hvac_mode>")
	fmt.Println("  fan <unit> <fan_mode>")
	fmt.Println("  swing <unit> <swing_mode>")
	fmt.Println("  set <unit> <temp> [hvac_mode]")
	fmt.Println("  on <unit>")
	fmt.Println("  off <unit>")
	fmt.Println("  refresh")
	fmt.Println("  login <email> <password-file>")
}
