package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/client"
	"github.com/openpriorauth/a4a-go/pkg/liaison"
)

var (
	agentURLFlag  string
	taskIDFlag    string
	forcePollFlag bool
	tokenFlag     string

	sendCmd = &cobra.Command{
		Use:   "send [message]",
		Short: "Send a request to a running agent and follow it to completion",
		Long:  longSend,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tl := liaison.New(agentURLFlag, client.Config{
				ForcePoll:    forcePollFlag,
				PollInterval: time.Second,
				Token:        tokenFlag,
			})
			defer tl.Shutdown()

			ctx := cmd.Context()

			var err error

			// When resuming, the message argument is the answer to the
			// pending question and is delivered once the pause surfaces.
			answer := ""

			if taskIDFlag != "" {
				answer = args[0]
				err = tl.ResumeTask(ctx, taskIDFlag)
			} else {
				err = tl.StartTask(ctx, a2a.TaskSendParams{
					Message: *a2a.NewTextMessage(a2a.RoleUser, args[0]),
				})
			}

			if err != nil {
				return err
			}

			for update := range tl.Updates() {
				if update.Err != nil {
					log.Error("task error", "error", update.Err)
					continue
				}

				if update.Question != nil {
					if answer != "" {
						reply := a2a.NewTextMessage(a2a.RoleUser, answer)
						answer = ""

						if err := tl.Send(ctx, *reply); err != nil {
							return err
						}
						continue
					}

					fmt.Println(update.Question.String())
					fmt.Println("(answer with: a4a-go send --task <id> \"...\")")

					if update.Task != nil {
						fmt.Println("task id:", update.Task.ID)
					}

					return nil
				}

				log.Info("status", "status", update.Status)

				if update.Status == liaison.StatusCompleted || update.Status == liaison.StatusError {
					if update.Task != nil {
						fmt.Println(update.Task.String())
					}
					return nil
				}
			}

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&agentURLFlag, "agent", "a", "http://localhost:3210", "Agent base URL")
	sendCmd.Flags().StringVarP(&taskIDFlag, "task", "t", "", "Resume an existing task by id")
	sendCmd.Flags().BoolVar(&forcePollFlag, "poll", false, "Force interval polling instead of SSE")
	sendCmd.Flags().StringVar(&tokenFlag, "token", "", "Bearer token for authenticated agents")
}

var longSend = `
Send a request to a running agent and follow its lifecycle until the task
completes, fails, or pauses for input.

Examples:
  # Start a new request
  a4a-go send "Request MRI for low back pain"

  # Answer a paused task
  a4a-go send --task <id> "8 weeks of pain, failed PT and NSAIDs, red flags present"
`
