package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/berr"
	"github.com/distroforge/buildsys/pkg/buildcfg"
	"github.com/distroforge/buildsys/pkg/fdbroker"
	"github.com/distroforge/buildsys/pkg/jobserver"
)

// containerBuilder is the subprocess invoked for every build/run/create/cp
// /rm/rmi step (spec §6). The original shells out to "docker"; buildsys
// does the same.
const containerBuilder = "docker"

// builderUID is the expected UID of unprivileged processes running inside
// the build container (spec §4.1/§5).
const builderUID = 1000

// bypassUID is the expected UID of the bypass sidecar's pipesys client,
// which runs as root inside its own container.
const bypassUID = 0

// Driver orchestrates one containerized package or image build end to end.
type Driver struct {
	log *logrus.Entry

	kind       Kind
	name       string
	arch       Arch
	rootDir    string
	toolsDir   string
	artifacts  string
	stateDir   string
	tag        string
	token      string
	sdkImage   string
	jobsSocket string

	buildArgs  []string
	secretArgs []string
}

// NewPackageBuild constructs a Driver for a single package build.
func NewPackageBuild(r PackageRequest, log *logrus.Entry) (*Driver, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	token := Token(r.RootDir)
	name := r.name()
	tag := appendToken(fmt.Sprintf("buildsys-pkg-%s-%s", name, r.Arch), r.RootDir)
	nocache := newCacheBuster()
	jobsSocket := SocketName("jobserver", token, nocache)

	b := &argBuilder{}
	if err := packageArgs(b, r); err != nil {
		return nil, err
	}
	commonArgs(b, r.Arch, r.SDKImage, nocache, token, jobsSocket, tag+"-bypass", r.ImageFeatures)

	return &Driver{
		log:        log,
		kind:       KindPackage,
		name:       name,
		arch:       r.Arch,
		rootDir:    r.RootDir,
		toolsDir:   r.ToolsDir,
		artifacts:  r.ArtifactsDir,
		stateDir:   r.StateDir,
		tag:        tag,
		token:      token,
		sdkImage:   r.SDKImage,
		jobsSocket: jobsSocket,
		buildArgs:  b.args,
	}, nil
}

// NewImageBuild constructs a Driver for a single image (variant) build.
func NewImageBuild(r ImageRequest, log *logrus.Entry) (*Driver, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	token := Token(r.RootDir)
	name := r.name()
	tag := appendToken(fmt.Sprintf("buildsys-var-%s-%s", name, r.Arch), r.RootDir)
	nocache := newCacheBuster()
	jobsSocket := SocketName("jobserver", token, nocache)

	b := &argBuilder{}
	if err := imageArgs(b, r); err != nil {
		return nil, err
	}
	commonArgs(b, r.Arch, r.SDKImage, nocache, token, jobsSocket, tag+"-bypass", r.ImageFeatures)

	s := &argBuilder{}
	if err := secretArgs(s); err != nil {
		return nil, err
	}

	return &Driver{
		log:        log,
		kind:       KindImage,
		name:       name,
		arch:       r.Arch,
		rootDir:    r.RootDir,
		toolsDir:   r.ToolsDir,
		artifacts:  r.ArtifactsDir,
		stateDir:   r.StateDir,
		tag:        tag,
		token:      token,
		sdkImage:   r.SDKImage,
		jobsSocket: jobsSocket,
		buildArgs:  b.args,
		secretArgs: s.args,
	}, nil
}

// Run performs the whole build described in spec §4.1's state machine:
// chdir, clean, spawn brokers, build with retry, teardown, harvest.
func (d *Driver) Run(ctx context.Context) error {
	prevWd, err := os.Getwd()
	if err != nil {
		return berr.Wrap(berr.Filesystem, err, "getting working directory")
	}
	if err := os.Chdir(d.rootDir); err != nil {
		return berr.Wrap(berr.Filesystem, err, "changing directory to %s", d.rootDir)
	}
	defer func() {
		if err := os.Chdir(prevWd); err != nil {
			d.log.WithError(err).Warn("restoring working directory")
		}
	}()

	markerDir, err := createMarkerDir(d.kind, d.name, string(d.arch), d.stateDir)
	if err != nil {
		return err
	}
	if err := cleanBuildFiles(markerDir, d.artifacts); err != nil {
		return err
	}

	// Best-effort pre-clean in case a prior run crashed mid-build.
	d.precleanContainers()

	jobBroker, err := d.startJobserverBroker(ctx)
	if err != nil {
		return err
	}
	defer jobBroker.Close()

	bypassDone := make(chan struct{})
	go func() {
		defer close(bypassDone)
		d.runBypassSidecar(ctx)
	}()

	buildErr := d.runBuild(ctx)

	d.stopBypassSidecar()
	<-bypassDone

	if buildErr != nil {
		return buildErr
	}

	return d.harvest(ctx, markerDir)
}

func (d *Driver) precleanContainers() {
	d.runBestEffort(context.Background(), []string{"rm", "--force", d.tag + "-bypass"})
	d.runBestEffort(context.Background(), []string{"rm", "--force", d.tag})
	d.runBestEffort(context.Background(), []string{"rmi", "--force", d.tag})
}

func (d *Driver) runBestEffort(ctx context.Context, args []string) {
	if err := runBuilder(ctx, d.log, containerBuilder, args); err != nil {
		d.log.WithError(err).Debug("best-effort cleanup command failed")
	}
}

// startJobserverBroker parses CARGO_MAKEFLAGS for the inherited jobserver
// pipe descriptors and starts an FdBroker serving them in fd mode. Bind
// completes-or-fails before this returns, satisfying spec §5's ordering
// guarantee.
func (d *Driver) startJobserverBroker(ctx context.Context) (*fdbroker.Broker, error) {
	makeflags := os.Getenv(buildcfg.EnvCargoMakeflags)
	if makeflags == "" {
		return nil, berr.New(berr.Configuration, "%s is not set", buildcfg.EnvCargoMakeflags)
	}
	hs, err := jobserver.ParseHandshake(makeflags)
	if err != nil {
		return nil, err
	}

	cfg := fdbroker.ForFDs(d.jobsSocket, builderUID, []int{int(hs.ReadFD), int(hs.WriteFD)})
	broker, err := fdbroker.New(cfg, d.log.WithField("broker", "jobserver"))
	if err != nil {
		return nil, err
	}
	if err := broker.Bind(); err != nil {
		return nil, err
	}
	go func() {
		if err := broker.Run(ctx); err != nil {
			d.log.WithError(err).Warn("jobserver broker stopped")
		}
	}()
	return broker, nil
}

// runBypassSidecar launches the sidecar container that serves the project
// root directory to in-container clients over the "-bypass" socket,
// reproducing the original's exact argv shape (spec SPEC_FULL §12.4).
func (d *Driver) runBypassSidecar(ctx context.Context) {
	args := []string{
		"run",
		"--name", d.tag + "-bypass",
		"--rm",
		"--init",
		"--net", "host",
		"--pid", "host",
		"-u", "0",
		"-v", d.rootDir + ":/bypass:ro",
		"-v", filepath.Join(d.rootDir, "build", "tools", "pipesys") + ":/usr/local/bin/pipesys:ro",
		d.sdkImage,
		"pipesys", "serve",
		"--socket", d.tag + "-bypass",
		"--client-uid", fmt.Sprintf("%d", bypassUID),
		"--path", "/bypass",
	}
	d.runBestEffort(ctx, args)
}

func (d *Driver) stopBypassSidecar() {
	d.runBestEffort(context.Background(), []string{"rm", "--force", d.tag + "-bypass"})
}

// runBuild constructs and runs the main "docker build" invocation, with
// retry on known transient failures.
func (d *Driver) runBuild(ctx context.Context) error {
	dockerfile := filepath.Join(d.toolsDir, "Dockerfile")
	target := "package"
	if d.kind == KindImage {
		target = "variant"
	}

	args := []string{
		"build", d.rootDir,
		"--target", target,
		"--tag", d.tag,
		"--network", "host",
		"--file", dockerfile,
	}
	args = append(args, d.buildArgs...)
	args = append(args, d.secretArgs...)

	return runBuilder(ctx, d.log, containerBuilder, args)
}

// harvest creates a scratch container from the built image, copies its
// /output tree into markerDir, tears the container and image down, and
// moves the collected artifacts into the output directory with markers.
func (d *Driver) harvest(ctx context.Context, markerDir string) error {
	create := []string{"create", "--name", d.tag, d.tag, "true"}
	if err := runBuilder(ctx, d.log, containerBuilder, create); err != nil {
		return err
	}

	cp := []string{"cp", d.tag + ":/output/.", markerDir}
	if err := runBuilder(ctx, d.log, containerBuilder, cp); err != nil {
		return err
	}

	d.runBestEffort(ctx, []string{"rm", "--force", d.tag})
	d.runBestEffort(ctx, []string{"rmi", "--force", d.tag})

	return copyBuildFiles(markerDir, d.artifacts)
}
