package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/benvvalk/mpih"
	"github.com/benvvalk/mpih/cmd/mpih/subcmd"
	"github.com/benvvalk/mpih/journal"
	jleveldb "github.com/benvvalk/mpih/journal/leveldb"
	jredis "github.com/benvvalk/mpih/journal/redis"
	"github.com/benvvalk/mpih/transport"
	"github.com/codegangsta/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}
	app := cli.NewApp()
	app.Name = "mpih"
	app.Usage = "MPI harness: stream data between cluster nodes from shell scripts"
	app.Version = mpih.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "socket, s",
			Usage:  "Unix socket for talking to the 'mpih init' daemon",
			EnvVar: "MPIH_SOCKET",
		},
		cli.IntFlag{
			Name:  "verbose, v",
			Usage: "verbosity level (0-3)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "init",
			Usage: "initialize current rank (starts daemon)",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "log",
					Usage:  "log file ('-' for stdout)",
					EnvVar: "MPIH_LOG",
				},
				cli.StringFlag{
					Name:   "pid-file",
					Usage:  "readiness file, written after the listener binds",
					EnvVar: "MPIH_PIDFILE",
				},
				cli.BoolFlag{
					Name:  "foreground",
					Usage: "do not daemonize",
				},
				cli.StringFlag{
					Name:   "status-addr",
					Usage:  "serve the read-only status API on HOST:PORT",
					EnvVar: "MPIH_STATUS",
				},
				cli.StringFlag{
					Name:  "journal",
					Value: "memstore",
					Usage: "stream journal driver [memstore, leveldb, redis]",
				},
				cli.StringFlag{
					Name:  "journal-path",
					Value: "mpih-journal",
					Usage: "db path, required for journal driver leveldb",
				},
				cli.StringFlag{
					Name:  "redis",
					Value: "tcp://127.0.0.1:6379",
					Usage: "redis server address, required for journal driver redis",
				},
				cli.StringFlag{
					Name:   "addr",
					Usage:  "this rank's transport address",
					EnvVar: "MPIH_ADDR",
				},
				cli.StringFlag{
					Name:   "alladdrs",
					Usage:  "comma-separated addresses of every rank, in rank order",
					EnvVar: "MPIH_ALLADDRS",
				},
			},
			Action: func(c *cli.Context) {
				initDaemon(c)
			},
		},
		{
			Name:      "run",
			Usage:     "run a script in a standard mpih environment",
			ArgsUsage: "<script> [args...]",
			Action: func(c *cli.Context) {
				if len(c.Args()) == 0 {
					cli.ShowCommandHelp(c, "run")
					log.Fatal("error: missing <script> argument")
				}
				os.Exit(subcmd.Run(c.Args(), c.GlobalInt("verbose")))
			},
		},
		{
			Name:      "send",
			Usage:     "stream data to another rank",
			ArgsUsage: "<rank> [file...]",
			Action: func(c *cli.Context) {
				peer := peerArg(c, "send")
				subcmd.Send(socketPath(c), peer, c.Args().Tail())
			},
		},
		{
			Name:      "recv",
			Usage:     "stream data from another rank to stdout",
			ArgsUsage: "<rank>",
			Action: func(c *cli.Context) {
				peer := peerArg(c, "recv")
				subcmd.Recv(socketPath(c), peer, os.Stdout)
			},
		},
		{
			Name:  "rank",
			Usage: "print rank of the current process",
			Action: func(c *cli.Context) {
				subcmd.PrintRank(socketPath(c))
			},
		},
		{
			Name:  "size",
			Usage: "print number of ranks in the current job",
			Action: func(c *cli.Context) {
				subcmd.PrintSize(socketPath(c))
			},
		},
		{
			Name:  "finalize",
			Usage: "shut down the current rank (stops daemon)",
			Action: func(c *cli.Context) {
				subcmd.Finalize(socketPath(c))
			},
		},
		{
			Name:  "status",
			Usage: "show daemon status",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "status-addr",
					Usage:  "address of the daemon's status API",
					EnvVar: "MPIH_STATUS",
				},
			},
			Action: func(c *cli.Context) {
				addr := c.String("status-addr")
				if addr == "" {
					cli.ShowCommandHelp(c, "status")
					log.Fatal("error: no status address specified")
				}
				subcmd.ShowStatus(addr)
			},
		},
		{
			Name:  "version",
			Usage: "print the version",
			Action: func(c *cli.Context) {
				fmt.Printf("mpih %s\n", mpih.Version)
			},
		},
	}

	app.Run(os.Args)
}

func socketPath(c *cli.Context) string {
	socket := c.GlobalString("socket")
	if socket == "" {
		log.Fatal("error: no socket path specified")
	}
	return socket
}

func peerArg(c *cli.Context, cmd string) int {
	if len(c.Args()) < 1 {
		cli.ShowCommandHelp(c, cmd)
		log.Fatal("error: missing <rank> argument")
	}
	peer, err := strconv.Atoi(c.Args().First())
	if err != nil {
		cli.ShowCommandHelp(c, cmd)
		log.Fatalf("error: bad rank %q", c.Args().First())
	}
	return peer
}

func initDaemon(c *cli.Context) {
	socket := c.GlobalString("socket")
	if socket == "" {
		log.Fatal("error: no socket path specified")
	}

	if !c.Bool("foreground") {
		// no real fork in Go: re-exec ourselves with --foreground,
		// deliberately keeping the process group and controlling
		// terminal so the daemon dies with the shell
		subcmd.Daemonize()
		return
	}

	logPath := c.String("log")
	logger, err := subcmd.OpenLog(logPath)
	if err != nil {
		log.Fatal(err)
	}

	var t transport.Transport
	if alladdrs := c.String("alladdrs"); alladdrs != "" {
		t, err = transport.NewTCP(c.String("addr"),
			strings.Split(alladdrs, ","))
		if err != nil {
			log.Fatal(err)
		}
	} else {
		t = transport.NewNetwork(1).Join(0)
	}

	var store journal.Driver
	switch c.String("journal") {
	case "memstore":
		store = journal.NewMemStoreDriver()
	case "leveldb":
		store, err = jleveldb.NewLevelDBDriver(c.String("journal-path"))
		if err != nil {
			log.Fatal(err)
		}
	case "redis":
		store = jredis.NewRedisDriver(c.String("redis"))
	default:
		store = journal.NewMemStoreDriver()
	}

	d := mpih.NewDaemon(t, mpih.Options{
		SocketPath: socket,
		PidFile:    c.String("pid-file"),
		StatusAddr: c.String("status-addr"),
		Journal:    store,
		Verbose:    c.GlobalInt("verbose"),
		Logger:     logger,
	})
	if err := d.Serve(); err != nil {
		log.Fatal(err)
	}
}
