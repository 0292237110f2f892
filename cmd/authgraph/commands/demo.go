package commands

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/authgraph/pkg/identity"
	"github.com/backkem/authgraph/pkg/service"
	"github.com/backkem/authgraph/pkg/session"
	"github.com/backkem/authgraph/pkg/transport"
	"github.com/backkem/authgraph/pkg/wire"
)

func demoCmd() *cobra.Command {
	var keyFile string
	var suiteName string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a full key exchange between two in-process parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			var suites []wire.Suite
			switch suiteName {
			case "aesgcm":
				suites = []wire.Suite{wire.SuiteP256AESGCM}
			case "chacha20":
				suites = []wire.Suite{wire.SuiteP256ChaCha20}
			case "":
			default:
				return fmt.Errorf("unknown suite %q (aesgcm or chacha20)", suiteName)
			}

			sourceID, err := demoIdentity(keyFile)
			if err != nil {
				return err
			}
			sinkID, err := identity.Generate()
			if err != nil {
				return err
			}

			sourcePolicy, err := identity.NewPolicyStore(identity.PolicyConfig{
				Identity: sourceID,
				Suites:   suites,
			})
			if err != nil {
				return err
			}
			sinkPolicy, err := identity.NewPolicyStore(identity.PolicyConfig{
				Identity: sinkID,
				Suites:   suites,
			})
			if err != nil {
				return err
			}
			if err := sourcePolicy.AddTrusted(sinkID.PublicKey()); err != nil {
				return err
			}
			if err := sinkPolicy.AddTrusted(sourceID.PublicKey()); err != nil {
				return err
			}

			source, err := service.NewFacade(service.FacadeConfig{
				Policy:        sourcePolicy,
				LoggerFactory: loggerFactory(),
			})
			if err != nil {
				return err
			}
			sink, err := service.NewFacade(service.FacadeConfig{
				Policy:        sinkPolicy,
				LoggerFactory: loggerFactory(),
			})
			if err != nil {
				return err
			}

			keys, err := runDemoExchange(source, sink)
			if err != nil {
				return err
			}

			fmt.Printf("Session established.\n")
			fmt.Printf("  Session ID: %s\n", hex.EncodeToString(keys.SessionID))
			fmt.Printf("  Suite:      %s\n", keys.Suite)
			fmt.Printf("  Peer:       %s\n", hex.EncodeToString(keys.PeerIdentity))
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "initiator identity key file (default: ephemeral)")
	cmd.Flags().StringVarP(&suiteName, "suite", "s", "", "cipher suite: aesgcm or chacha20")
	return cmd
}

func demoIdentity(keyFile string) (*identity.Identity, error) {
	if keyFile == "" {
		return identity.Generate()
	}
	kp, err := loadKeyPair(keyFile)
	if err != nil {
		return nil, err
	}
	return identity.New(kp)
}

// runDemoExchange drives the three-message exchange between the two
// facades over an in-memory pipe and returns the initiator's session keys.
func runDemoExchange(source, sink *service.Facade) (*session.Keys, error) {
	pipe := transport.NewPipe(transport.PipeConfig{})
	defer pipe.Close()
	end0, end1 := pipe.Endpoint0(), pipe.Endpoint1()

	relay := func(frame []byte) ([]byte, error) {
		if err := end0.WriteFrame(frame); err != nil {
			return nil, err
		}
		end1.SetReadDeadline(time.Now().Add(time.Second))
		delivered, err := end1.ReadFrame()
		if err != nil {
			return nil, err
		}
		return sink.Handle(delivered)
	}

	srcRef, initMsg, err := source.StartHandshake()
	if err != nil {
		return nil, err
	}
	resp, err := relay(append([]byte{service.RefNew}, initMsg...))
	if err != nil {
		return nil, err
	}
	sinkRef, _, _, respondMsg, err := service.ParseResponse(resp)
	if err != nil {
		return nil, err
	}

	out, err := source.Handle(append([]byte{srcRef}, respondMsg...))
	if err != nil {
		return nil, err
	}
	_, done, sessionID, finishMsg, err := service.ParseResponse(out)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("initiator did not complete")
	}

	resp, err = relay(append([]byte{sinkRef}, finishMsg...))
	if err != nil {
		return nil, err
	}
	_, done, sinkSessionID, _, err := service.ParseResponse(resp)
	if err != nil {
		return nil, err
	}
	if !done || !bytes.Equal(sessionID, sinkSessionID) {
		return nil, fmt.Errorf("parties disagree on the session")
	}

	return source.Store().Get(sessionID)
}
