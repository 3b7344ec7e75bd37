//go:build !windows

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// runREPL 逐行读取命令直到 EOF、quit 或 ctx 取消
func runREPL(ctx context.Context, c executor, in io.Reader, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	inputCh, errCh := startInputReader(ctx, in)
	fmt.Fprintln(stdout, "xrelayctl 交互模式，输入 help 查看命令，quit 退出")

	for {
		fmt.Fprint(stdout, "xrelay> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			return nil
		case err := <-errCh:
			return fmt.Errorf("读取输入: %w", err)
		case line, ok := <-inputCh:
			if !ok {
				fmt.Fprintln(stdout)
				return nil
			}
			if processLine(ctx, c, stdout, stderr, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

// inputCh 无缓冲，发送受 ctx 保护
func startInputReader(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	inputCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(inputCh)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()
	return inputCh, errCh
}

// processLine 返回 true 表示退出
func processLine(ctx context.Context, c executor, stdout, stderr io.Writer, line string) bool {
	if line == "" {
		return false
	}
	if line == "quit" || line == "exit" {
		return true
	}
	parts := parseCommandLine(line)
	if len(parts) == 0 {
		return false
	}
	// 单条失败不退出交互
	if err := exec(ctx, c, stdout, stderr, parts[0], parts[1:]); err != nil {
		if _, ok := err.(*exitError); !ok {
			fmt.Fprintf(stderr, "错误: %v\n", err)
		}
	}
	return false
}

// parseCommandLine 按空格分词，支持单双引号与反斜杠转义
func parseCommandLine(line string) []string {
	var (
		parts     []string
		current   strings.Builder
		quoteChar rune
		escaped   bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case quoteChar == 0 && (r == '"' || r == '\''):
			quoteChar = r
		case r == quoteChar:
			quoteChar = 0
		case r == ' ' && quoteChar == 0:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
