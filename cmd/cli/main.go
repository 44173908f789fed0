package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"sidgate/cmd/cli/command"
	"sidgate/internal/session"
)

// 打印欢迎信息和启动logo
func printWelcomeMessage() {
	PrintStartupLogo()
	fmt.Println("Welcome to the sidgate CLI REPL! Type 'exit' to quit.")
	fmt.Println("Type 'help' to see the list of available commands.")
}

func PrintStartupLogo() {
	logo := `
   _____ ________  ______  ___  ____________
  / ___//  _/ __ \/ ____/ /   |/_  __/ ____/
  \__ \ / // / / / / __  / /| | / / / __/
 ___/ // // /_/ / /_/ / / ___ |/ / / /___
/____/___/_____/\____/ /_/  |_/_/ /_____/

`
	fmt.Print(logo)
}

// run 执行一条命令, 错误以状态文本输出
func run(app *command.App, args []string) error {
	rootCmd := command.NewRootCommand(app)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s (%v)\n", session.Status(err), err)
	}
	return err
}

func main() {
	app := command.NewApp(os.Stdout)
	defer app.Close()

	// 带参数时直接执行一次
	if len(os.Args) > 1 {
		if err := run(app, os.Args[1:]); err != nil {
			app.Close()
			os.Exit(1)
		}
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	printWelcomeMessage()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Exiting sidgate CLI...")
			return
		case "help":
			_ = run(app, []string{"--help"})
			continue
		}
		_ = run(app, strings.Fields(input))
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}
