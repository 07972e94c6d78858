package app

import (
	"fmt"
	"io"
)

// Command はdevsyncのサブコマンド。
type Command string

const (
	// CommandServe はゲートウェイを起動する。引数なしの場合もこれになる。
	CommandServe Command = "serve"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のゲートウェイの /health を確認する。
	// シェルのないdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

var commandUsage = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the collaboration gateway (default)"},
	{CommandMigrate, "apply database migrations and exit"},
	{CommandHealthcheck, "probe /health of a running gateway on SERVER_PORT"},
	{CommandHelp, "show this help"},
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 空または未知の値はCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp
	}
	for _, u := range commandUsage {
		if string(u.cmd) == args[0] {
			return u.cmd
		}
	}
	return CommandServe
}

// printUsage はサブコマンドの一覧をwに書き出す。
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: devsync [command]")
	fmt.Fprintln(w)
	for _, u := range commandUsage {
		fmt.Fprintf(w, "  %-12s %s\n", u.cmd, u.desc)
	}
}
