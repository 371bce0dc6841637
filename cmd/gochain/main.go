package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/config"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/miner"
	"github.com/gochain/gochain/pkg/p2p"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/wallet"
	"github.com/spf13/cobra"
)

var (
	configFile string
	listenAddr string
	peerAddr   string
	mining     bool
	coinbase   string

	walletFile string
	passphrase string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gochain",
		Short: "gochain - a minimal UTXO blockchain node",
		Long: `gochain is a minimal proof-of-work, UTXO-based blockchain node.
It validates and relays blocks and transactions over a gossip network,
maintains a mempool and UTXO set, and can mine new blocks.`,
		RunE: runNode,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&walletFile, "wallet-file", "", "path to wallet key file (default from config)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase protecting the wallet key file")

	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on for peers (default from config)")
	rootCmd.Flags().StringVar(&peerAddr, "peer", "", "address of a peer to dial on startup")
	rootCmd.Flags().BoolVar(&mining, "mine", false, "mine blocks once the node is running")
	rootCmd.Flags().StringVar(&coinbase, "coinbase", "", "address to receive mining rewards (required with --mine)")

	rootCmd.AddCommand(walletNewCmd())
	rootCmd.AddCommand(walletBalanceCmd())
	rootCmd.AddCommand(walletSendCmd())
	rootCmd.AddCommand(chainInfoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runNode starts storage, the chain, mempool, P2P node, and optional
// miner, then blocks until interrupted.
func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.NewLogger(cfg.Logging)
	defer log.Close()

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if mining && coinbase != "" {
		cfg.Miner.CoinbaseAddress = coinbase
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	c, err := chain.New(cfg.Chain, store)
	if err != nil {
		return fmt.Errorf("failed to open chain: %w", err)
	}
	log.Info("chain opened at height %d, tip %x", c.Height(), c.Tip().Hash())

	pool := mempool.New(cfg.Mempool, c.UTXOSet(), cfg.Chain.ChainID)

	node := p2p.New(cfg.P2P, c, pool, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node.Start(ctx)
	defer node.Stop()

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	defer listener.Close()
	log.Info("listening for peers on %s", cfg.ListenAddr)

	go acceptLoop(listener, node, log)

	if peerAddr != "" {
		if err := dialPeer(node, peerAddr, log); err != nil {
			log.Warn("failed to connect to peer %s: %v", peerAddr, err)
		}
	}

	var m *miner.Miner
	if mining {
		if cfg.Miner.CoinbaseAddress == "" {
			return fmt.Errorf("mining requires a coinbase address (--coinbase or miner.coinbase_address)")
		}
		m = miner.New(c, pool, cfg.Miner)
		if err := m.Start(func(b *block.Block) {
			log.WithBlock(b.Hash()).Info("mined block %d", b.Height)
			node.BroadcastBlock(b)
		}); err != nil {
			return fmt.Errorf("failed to start miner: %w", err)
		}
		defer m.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}

func acceptLoop(listener net.Listener, node *p2p.Node, log *logger.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		addr := conn.RemoteAddr().String()
		if _, err := node.Connect(conn, addr, ipOf(addr), true); err != nil {
			log.WithFields(map[string]interface{}{"addr": addr}).Warn("rejected inbound peer: %v", err)
			conn.Close()
		}
	}
}

func dialPeer(node *p2p.Node, addr string, log *logger.Logger) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	if _, err := node.Connect(conn, addr, ipOf(addr), false); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func ipOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func walletNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet-new",
		Short: "Generate a new key and add it to the wallet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openWallet()
			if err != nil {
				return err
			}
			if err := ks.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			addr, err := ks.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			if err := ks.Save(); err != nil {
				return fmt.Errorf("failed to save wallet: %w", err)
			}
			fmt.Println(addr)
			return nil
		},
	}
}

func walletBalanceCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the confirmed balance for an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				return fmt.Errorf("--address is required")
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()
			c, err := chain.New(cfg.Chain, store)
			if err != nil {
				return fmt.Errorf("failed to open chain: %w", err)
			}
			fmt.Println(c.UTXOSet().Balance(address))
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address to query")
	return cmd
}

func walletSendCmd() *cobra.Command {
	var from, to string
	var amount, fee uint64
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build and sign a transaction spending from's outputs and check it against a local mempool (not relayed to peers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("--from and --to are required")
			}
			ks, err := openWallet()
			if err != nil {
				return err
			}
			if err := ks.Load(); err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()
			c, err := chain.New(cfg.Chain, store)
			if err != nil {
				return fmt.Errorf("failed to open chain: %w", err)
			}

			w := wallet.New(ks, c.UTXOSet(), cfg.Chain.ChainID)
			tx, err := w.CreateTransaction(from, to, amount, fee)
			if err != nil {
				return fmt.Errorf("failed to create transaction: %w", err)
			}

			pool := mempool.New(cfg.Mempool, c.UTXOSet(), cfg.Chain.ChainID)
			if err := pool.Admit(tx, c.Height()); err != nil {
				return fmt.Errorf("transaction rejected by mempool: %w", err)
			}
			fmt.Printf("%x\n", tx.TxID())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sending address")
	cmd.Flags().StringVar(&to, "to", "", "receiving address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "transaction fee")
	return cmd
}

func chainInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the current chain tip and height",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()
			c, err := chain.New(cfg.Chain, store)
			if err != nil {
				return fmt.Errorf("failed to open chain: %w", err)
			}
			tip := c.Tip()
			fmt.Printf("height: %d\n", c.Height())
			fmt.Printf("tip: %x\n", tip.Hash())
			fmt.Printf("transactions: %d\n", len(tip.Transactions))
			fmt.Printf("next bits: %08x\n", c.NextBits())
			fmt.Printf("next subsidy: %d\n", c.NextSubsidy())
			return nil
		},
	}
}

// openWallet constructs the FileKeyStore for the current --wallet-file
// and --passphrase flags, defaulting the path against the loaded config
// when --wallet-file is left unset.
func openWallet() (*wallet.FileKeyStore, error) {
	path := walletFile
	if path == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.WalletFile
	}
	if passphrase == "" {
		return nil, fmt.Errorf("--passphrase is required")
	}
	return wallet.NewFileKeyStore(path, passphrase), nil
}
