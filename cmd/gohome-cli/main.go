package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
	"github.com/joshp123/gohome-aircloud/internal/rpc"
)

func main() {
	jsonOutput := false
	args := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[1:] {
		if arg == "--json" {
			jsonOutput = true
			continue
		}
		args = append(args, arg)
	}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := resolveAddr()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], jsonOutput)
	case "aircloud", "ac":
		aircloudCmd(ctx, conn, args[1:], jsonOutput)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	out := outputMode{json: jsonOutput}
	switch args[0] {
	case "list":
		var resp core.ListPluginsResponse
		if err := rpc.Invoke(ctx, conn, "/"+core.RegistryServiceName+"/ListPlugins", struct{}{}, &resp); err != nil {
			fatal("list plugins", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, plugin := range resp.Plugins {
			rows = append(rows, []string{plugin.PluginID, plugin.DisplayName, plugin.Version, plugin.Status})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		var resp core.DescribePluginResponse
		req := core.DescribePluginRequest{PluginID: args[1]}
		if err := rpc.Invoke(ctx, conn, "/"+core.RegistryServiceName+"/DescribePlugin", req, &resp); err != nil {
			fatal("describe plugin", err)
		}
		if resp.Plugin == nil {
			fmt.Println("not found")
			return
		}
		if out.json {
			out.printJSON(resp.Plugin)
			return
		}
		fmt.Printf("id: %s\n", resp.Plugin.PluginID)
		fmt.Printf("name: %s\n", resp.Plugin.DisplayName)
		fmt.Printf("version: %s\n", resp.Plugin.Version)
		fmt.Printf("status: %s\n", resp.Plugin.Status)
		if resp.Plugin.HealthMessage != "" {
			fmt.Printf("health: %s\n", resp.Plugin.HealthMessage)
		}
		fmt.Println("services:")
		for _, svc := range resp.Plugin.Services {
			fmt.Printf("  - %s\n", svc)
		}
		fmt.Println("dashboards:")
		for _, dash := range resp.Plugin.Dashboards {
			fmt.Printf("  - %s (%s)\n", dash.Name, dash.Path)
		}
		fmt.Println("agents_md:")
		fmt.Println(resp.Plugin.AgentsMD)
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method, err := expandMethod(remaining[0], func(pluginID string) ([]string, error) {
		var resp core.DescribePluginResponse
		req := core.DescribePluginRequest{PluginID: pluginID}
		if err := rpc.Invoke(ctx, conn, "/"+core.RegistryServiceName+"/DescribePlugin", req, &resp); err != nil {
			return nil, err
		}
		if resp.Plugin == nil {
			return nil, fmt.Errorf("plugin %q not found", pluginID)
		}
		return resp.Plugin.Services, nil
	})
	if err != nil {
		fatal("call", err)
	}
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv("GOHOME_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return dialAddr(cfg.Core.GRPCAddr)
}

// dialAddr turns a wildcard listen address into one a client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func usage() {
	fmt.Println("gohome-cli [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  aircloud <command> (see gohome-cli aircloud)")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method|plugin/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
