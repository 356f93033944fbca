package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/internal/usecase"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
)

var errExit = errors.New("exit")

type Interface struct {
	config   *config.Config
	logger   *zap.Logger
	usecase  *usecase.Service
	in       io.Reader
	out      io.Writer
	ctx      context.Context
	cancel   context.CancelFunc
	sigChan  chan os.Signal
	stopOnce sync.Once
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	return newInterface(params, os.Stdin, os.Stdout)
}

func newInterface(params Params, in io.Reader, out io.Writer) *Interface {
	ctx, cancel := context.WithCancel(context.Background())

	return &Interface{
		config:  params.Config,
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		in:      in,
		out:     out,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}
}

// Start reads commands until exit, end of input, or an interrupt.
func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	signal.Notify(i.sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(i.sigChan)

	go func() {
		select {
		case <-i.sigChan:
			fmt.Fprintln(i.out, "\nInterrupt received, stopping task...")
			i.Stop()
		case <-i.ctx.Done():
		}
	}()

	scanner := bufio.NewScanner(i.in)

	for i.ctx.Err() == nil {
		fmt.Fprint(i.out, "\n> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := i.handleCommand(input); err != nil {
			if errors.Is(err, errExit) {
				break
			}

			i.logger.Error("Command error", zap.Error(err))
			fmt.Fprintf(i.out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// Stop cancels the running task and ends the read loop. Safe to call more than once.
func (i *Interface) Stop() error {
	i.stopOnce.Do(func() {
		i.logger.Info("Stopping console interface...")
		i.cancel()
		i.usecase.Agent.Stop()
	})

	return nil
}

func (i *Interface) handleCommand(input string) error {
	command, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "help", "h":
		i.printHelp()

		return nil
	case "exit", "quit", "q":
		fmt.Fprintln(i.out, "Shutting down...")

		return errExit
	case "goto", "open":
		if arg == "" {
			return apperr.InvalidReqError("goto", "url", errors.New("usage: goto <url>"))
		}

		return i.usecase.Browser.Navigate(i.ctx, arg)
	case "peek":
		if arg == "" {
			return apperr.InvalidReqError("peek", "goal", errors.New("usage: peek <goal>"))
		}

		return i.peek(arg)
	default:
		return i.executeTask(input)
	}
}

// peek asks the model for a click on the current page and prints it without clicking.
func (i *Interface) peek(goal string) error {
	capture, err := i.usecase.Browser.CaptureElement(i.ctx, i.config.AgentConfig.Selector)
	if err != nil {
		return err
	}

	target, err := i.usecase.Planner.DecideClick(i.ctx, capture, goal, i.config.VisionConfig)
	if err != nil {
		return err
	}

	fmt.Fprintf(i.out, "Would click %s at offset (%.1f, %.1f) of a %.0fx%.0f element\n",
		capture.Selector, target.OffsetX, target.OffsetY, capture.CSSWidth, capture.CSSHeight)

	return nil
}

func (i *Interface) executeTask(goal string) error {
	fmt.Fprintf(i.out, "\nStarting task: %s\n", goal)
	fmt.Fprintln(i.out, strings.Repeat("-", 50))

	task, err := i.usecase.Agent.Execute(i.ctx, "", goal)
	if task != nil {
		i.printSteps(task)
	}

	if err != nil {
		fmt.Fprintf(i.out, "\nTask failed: %v\n", err)

		return nil
	}

	fmt.Fprintln(i.out, strings.Repeat("-", 50))
	fmt.Fprintf(i.out, "Task %s after %d step(s)\n", task.Status, len(task.Steps))

	return nil
}

func (i *Interface) printSteps(task *entity.Task) {
	for _, s := range task.Steps {
		line := fmt.Sprintf("  %d. [%s] %s", s.Number, s.Strategy, s.Description)

		if s.Navigated {
			line += " -> " + s.PostURL
		}

		if s.VisionError != "" {
			line += " (vision: " + apperr.Excerpt(s.VisionError) + ")"
		}

		if s.Error != "" {
			line += " error: " + s.Error
		}

		fmt.Fprintln(i.out, line)
	}
}

func (i *Interface) printBanner() {
	fmt.Fprintf(i.out, "\nvision-click: screenshot an element, ask a vision model where to click, click it.\nProvider: %s, model: %s, selector: %s\n",
		i.config.VisionConfig.Provider, i.config.VisionConfig.Model, i.config.AgentConfig.Selector)
}

func (i *Interface) printHelp() {
	help := `
Available commands:
  help, h        - Show this help message
  goto <url>     - Open a page
  peek <goal>    - Show where the model would click, without clicking
  exit, quit, q  - Exit the application

Anything else is a goal for the agent on the current page:
  Examples:
    - Click the "More information" link
    - Open the pricing page
`
	fmt.Fprintln(i.out, help)
}
