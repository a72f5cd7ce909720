package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/TunefulSu/ast/internal/cleanup"
	"github.com/TunefulSu/ast/internal/config"
	"github.com/TunefulSu/ast/internal/lockfile"
	"github.com/TunefulSu/ast/internal/preflight"
	"github.com/TunefulSu/ast/internal/session"
	"github.com/TunefulSu/ast/internal/snapshot"
	"github.com/TunefulSu/ast/internal/volume"
)

// Version information - set via ldflags at build time
// Example: go build -ldflags "-X main.version=1.0.0 -X main.gitCommit=$(git rev-parse HEAD)"
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "ast",
		Usage:   "Immutable snapshot-tree management for btrfs systems",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the ast configuration file",
				Value:   config.DefaultPath,
				EnvVars: []string{"AST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"AST_LOG_LEVEL"},
			},
		},
		Before: func(cliCtx *cli.Context) error {
			if err := log.SetLevel(cliCtx.String("log-level")); err != nil {
				return err
			}
			return preflight.Check()
		},
		Commands: []*cli.Command{
			cloneCommand,
			cloneTreeCommand,
			branchCommand,
			ubranchCommand,
			repairCommand,
			deployCommand,
			baseUpdateCommand,
			chrootCommand,
			runCommand,
			treeRunCommand,
			installCommand,
			removeCommand,
			upgradeCommand,
			descCommand,
			editConfCommand,
			listCommand,
			treeCommand,
			dfCommand,
			gcCommand,
			tmpCommand,
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errdefs.IsInvalidArgument(err) {
			fmt.Fprintf(os.Stderr, "see 'ast help' for usage\n")
		}
		os.Exit(1)
	}
}

// manager builds the snapshot engine from the loaded configuration.
func manager(cliCtx *cli.Context) (*snapshot.Manager, config.Config, error) {
	cfg, err := config.Load(cliCtx.String("config"))
	if err != nil {
		return nil, config.Config{}, err
	}
	store := volume.NewBtrfs(cfg.Mountpoint, cfg.SnapshotDir)
	m := snapshot.NewManager(store, snapshot.Layout{Dir: cfg.SnapshotDir},
		snapshot.WithLock(lockfile.New(cfg.LockPath)),
		snapshot.WithBootloader(snapshot.NewCommandBootloader(cfg.Bootloader...)),
		snapshot.WithPackageCommands(cfg.Packages),
		snapshot.WithKeepRadius(cfg.KeepRadius),
	)
	return m, cfg, nil
}

// idArg parses the positional snapshot ID at index pos.
func idArg(cliCtx *cli.Context, pos int) (snapshot.ID, error) {
	return parseID(cliCtx.Args().Get(pos))
}

func parseID(arg string) (snapshot.ID, error) {
	if arg == "" {
		return 0, fmt.Errorf("missing snapshot ID argument: %w", errdefs.ErrInvalidArgument)
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid snapshot ID %q: %w", arg, errdefs.ErrInvalidArgument)
	}
	return snapshot.ID(n), nil
}

// ubranchIDs validates the two-argument ubranch invocation: the parent the
// workflow records, then the snapshot to clone.
func ubranchIDs(args []string) (parent, src snapshot.ID, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("ubranch takes exactly <parent-id> <id>: %w", errdefs.ErrInvalidArgument)
	}
	if parent, err = parseID(args[0]); err != nil {
		return 0, 0, err
	}
	if src, err = parseID(args[1]); err != nil {
		return 0, 0, err
	}
	return parent, src, nil
}

var cloneCommand = &cli.Command{
	Name:      "clone",
	Usage:     "Clone a snapshot into a new one",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		src, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		id, err := m.Clone(cliCtx.Context, src)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var cloneTreeCommand = &cli.Command{
	Name:      "clone-tree",
	Usage:     "Clone a snapshot and all of its descendants",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		root, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		id, err := m.CloneTree(cliCtx.Context, root)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var branchCommand = &cli.Command{
	Name:      "branch",
	Usage:     "Start a new branch off a snapshot",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		parent, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		id, err := m.Branch(cliCtx.Context, parent)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var ubranchCommand = &cli.Command{
	Name:      "ubranch",
	Usage:     "Clone a snapshot as a new branch under a parent (update-branch workflow)",
	ArgsUsage: "<parent-id> <id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		_, src, err := ubranchIDs(cliCtx.Args().Slice())
		if err != nil {
			return err
		}
		id, err := m.Branch(cliCtx.Context, src)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var repairCommand = &cli.Command{
	Name:      "repair",
	Usage:     "Fill in the missing members of a partially created snapshot",
	ArgsUsage: "<src-id> <dst-id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		src, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		dst, err := idArg(cliCtx, 1)
		if err != nil {
			return err
		}
		return m.Repair(cliCtx.Context, src, dst)
	},
}

var deployCommand = &cli.Command{
	Name:      "deploy",
	Usage:     "Make a snapshot the default boot target and regenerate the bootloader",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		if err := m.Promote(cliCtx.Context, id); err != nil {
			return err
		}
		fmt.Printf("snapshot %d deployed, reboot to activate\n", id)
		return nil
	},
}

var baseUpdateCommand = &cli.Command{
	Name:  "base-update",
	Usage: "Upgrade the live system and refresh the base snapshot from it",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		return m.BaseUpdate(cliCtx.Context)
	},
}

var chrootCommand = &cli.Command{
	Name:      "chroot",
	Usage:     "Open an interactive shell inside a snapshot",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		ctx := cliCtx.Context
		sess, err := session.Open(ctx, m.Layout().RootfsPath(id))
		if err != nil {
			return err
		}
		defer cleanup.Do(ctx, func(ctx context.Context) {
			if err := sess.Close(ctx); err != nil {
				log.G(ctx).WithError(err).Warn("session teardown incomplete")
			}
		})
		return sess.Shell(ctx)
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a command inside a snapshot",
	ArgsUsage: "<id> <command>...",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		return m.Run(cliCtx.Context, id, cliCtx.Args().Slice()[1:])
	},
}

var treeRunCommand = &cli.Command{
	Name:      "tree-run",
	Usage:     "Run a command inside a snapshot and all of its descendants",
	ArgsUsage: "<id> <command>...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "Abort at the first failing snapshot instead of continuing",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		root, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		return m.TreeRun(cliCtx.Context, root, cliCtx.Args().Slice()[1:], cliCtx.Bool("fail-fast"))
	},
}

var installCommand = &cli.Command{
	Name:      "install",
	Usage:     "Install packages into a snapshot",
	ArgsUsage: "<id> <package>...",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		return m.Install(cliCtx.Context, id, cliCtx.Args().Slice()[1:])
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "Remove packages from a snapshot",
	ArgsUsage: "<id> <package>...",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		return m.Remove(cliCtx.Context, id, cliCtx.Args().Slice()[1:])
	},
}

var upgradeCommand = &cli.Command{
	Name:      "upgrade",
	Usage:     "Run a full package upgrade inside a snapshot",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		return m.Upgrade(cliCtx.Context, id)
	},
}

var descCommand = &cli.Command{
	Name:      "desc",
	Usage:     "Show or set a snapshot's description",
	ArgsUsage: "<id> [description]",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		if cliCtx.NArg() > 1 {
			return m.SetDescription(cliCtx.Context, id, strings.Join(cliCtx.Args().Slice()[1:], " "))
		}
		desc, err := m.Description(cliCtx.Context, id)
		if err != nil {
			return err
		}
		fmt.Println(desc)
		return nil
	},
}

var editConfCommand = &cli.Command{
	Name:      "edit-conf",
	Usage:     "Edit a snapshot's configuration file with $EDITOR",
	ArgsUsage: "<id>",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		id, err := idArg(cliCtx, 0)
		if err != nil {
			return err
		}
		path, err := m.EnsureConf(cliCtx.Context, id)
		if err != nil {
			return err
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		cmd := exec.CommandContext(cliCtx.Context, editor, path)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List all snapshots",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		infos, err := m.List(cliCtx.Context)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Parent", "Deployed", "Missing", "Description"})
		for _, info := range infos {
			parent := "-"
			if info.HasParent {
				parent = strconv.Itoa(int(info.Parent))
			}
			deployed := ""
			if info.Deployed {
				deployed = "*"
			}
			missing := make([]string, len(info.Missing))
			for i, k := range info.Missing {
				missing[i] = string(k)
			}
			table.Append([]string{
				strconv.Itoa(int(info.ID)),
				parent,
				deployed,
				strings.Join(missing, " "),
				info.Description,
			})
		}
		table.Render()
		return nil
	},
}

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "Show the snapshot tree",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		infos, err := m.List(cliCtx.Context)
		if err != nil {
			return err
		}

		children := make(map[snapshot.ID][]snapshot.ID)
		byID := make(map[snapshot.ID]snapshot.Info)
		var roots []snapshot.ID
		for _, info := range infos {
			byID[info.ID] = info
			if info.HasParent {
				children[info.Parent] = append(children[info.Parent], info.ID)
			} else {
				roots = append(roots, info.ID)
			}
		}
		sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

		var print func(id snapshot.ID, depth int)
		print = func(id snapshot.ID, depth int) {
			info := byID[id]
			marker := ""
			if info.Deployed {
				marker = " *"
			}
			desc := ""
			if info.Description != "" {
				desc = "  " + info.Description
			}
			fmt.Printf("%s%d%s%s\n", strings.Repeat("  ", depth), id, marker, desc)
			for _, child := range children[id] {
				print(child, depth+1)
			}
		}
		for _, root := range roots {
			print(root, 0)
		}
		return nil
	},
}

var dfCommand = &cli.Command{
	Name:  "df",
	Usage: "Show per-snapshot disk usage",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		usages, err := m.UsageAll(cliCtx.Context)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Rootfs", "Var", "Etc", "Boot", "Total"})
		for _, u := range usages {
			table.Append([]string{
				strconv.Itoa(int(u.ID)),
				strconv.FormatInt(u.Members[snapshot.KindRootfs], 10),
				strconv.FormatInt(u.Members[snapshot.KindVar], 10),
				strconv.FormatInt(u.Members[snapshot.KindEtc], 10),
				strconv.FormatInt(u.Members[snapshot.KindBoot], 10),
				strconv.FormatInt(u.Total, 10),
			})
		}
		table.Render()
		return nil
	},
}

var gcCommand = &cli.Command{
	Name:  "gc",
	Usage: "Delete snapshots outside the retention window",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		return m.Collect(cliCtx.Context)
	},
}

var tmpCommand = &cli.Command{
	Name:  "tmp",
	Usage: "Remove ast scratch directories under /tmp",
	Action: func(cliCtx *cli.Context) error {
		m, _, err := manager(cliCtx)
		if err != nil {
			return err
		}
		return m.CleanTmp(cliCtx.Context)
	},
}
