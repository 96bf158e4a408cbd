package main

import (
	"fmt"
	"strings"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/audit"
	"github.com/spf13/cobra"
)

func newAuditCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with the audit topic",
	}

	var (
		topicID       string
		afterSequence int64
		trusted       []string
		summary       bool
	)
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Read and verify audit events from the mirror node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(topicID)
			if topic == "" {
				topic = app.cfg.Audit.TopicID
			}
			if topic == "" {
				return fmt.Errorf("no audit topic: pass --topic or set audit.topic_id")
			}
			signers := trusted
			if len(signers) == 0 {
				signers = app.cfg.Audit.TrustedSigners
			}

			mirrorClient, err := app.newMirrorClient()
			if err != nil {
				return err
			}
			result, err := audit.Replay(cmd.Context(), mirrorClient, topic, audit.ReplayOptions{
				AfterSequence:  afterSequence,
				TrustedSigners: signers,
			})
			if err != nil {
				return err
			}

			if summary {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"trails":   audit.Summarize(result.Records),
					"rejected": result.Rejected,
				})
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	replayCmd.Flags().StringVar(&topicID, "topic", "", "audit topic ID (overrides audit.topic_id)")
	replayCmd.Flags().Int64Var(&afterSequence, "after", 0, "skip messages up to this sequence number")
	replayCmd.Flags().StringSliceVar(&trusted, "trusted", nil, "trusted signer public key (repeatable)")
	replayCmd.Flags().BoolVar(&summary, "summary", false, "print per-schedule trails instead of records")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key for signing audit envelopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := audit.GenerateSigner()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"privateKey": signer.PrivateKeyHex(),
				"publicKey":  signer.PublicKeyHex(),
			})
		},
	}

	cmd.AddCommand(replayCmd, keygenCmd)
	return cmd
}
