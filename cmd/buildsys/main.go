package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/build"
	"github.com/distroforge/buildsys/pkg/build/manifest"
	"github.com/distroforge/buildsys/pkg/buildcfg"
	"github.com/distroforge/buildsys/pkg/buildlog"
)

const defaultVersion = "unversioned"

var (
	version = defaultVersion

	kindFlag         = "package"
	archFlag         = "x86_64"
	sdkFlag          string
	rootDirFlag      string
	toolsDirFlag     string
	artifactsDirFlag string
	stateDirFlag     string
	nameFlag         string
	overrideFlag     string
	repoFlag         string
	profileFlag      string
	buildIDFlag      string
	versionIDFlag    string
	printConfigFlag  = false
)

func main() {
	flaggy.SetName("buildsys")
	flaggy.SetDescription("drives one containerized package or image build")
	flaggy.String(&kindFlag, "k", "kind", "build kind: package or image")
	flaggy.String(&archFlag, "a", "arch", "target architecture")
	flaggy.String(&sdkFlag, "", "sdk", "reference builder image")
	flaggy.String(&rootDirFlag, "", "root-dir", "repository root directory")
	flaggy.String(&toolsDirFlag, "", "tools-dir", "directory containing the Dockerfile recipe")
	flaggy.String(&artifactsDirFlag, "", "artifacts-dir", "output artifacts directory")
	flaggy.String(&stateDirFlag, "", "state-dir", "marker/scratch state directory")
	flaggy.String(&nameFlag, "n", "name", "package or variant name")
	flaggy.String(&overrideFlag, "", "override-name", "package name override")
	flaggy.String(&repoFlag, "", "repo", "destination repository label")
	flaggy.String(&profileFlag, "p", "profile", "path to a manifest profile override")
	flaggy.String(&buildIDFlag, "", "build-id", "image build id (image builds only)")
	flaggy.String(&versionIDFlag, "", "version-id", "image version id (image builds only)")
	flaggy.Bool(&printConfigFlag, "", "print-config", "print the resolved manifest and exit")
	flaggy.SetVersion(version)
	flaggy.Parse()

	log := buildlog.New(logrus.Fields{"arch": archFlag, "kind": kindFlag, "token": build.Token(rootDirFlag)})

	var info manifest.Info
	if err := buildcfg.DecodeProfile(profileFlag, &info); err != nil {
		fatal(log, err)
	}

	if printConfigFlag {
		var buf bytes.Buffer
		if err := yaml.NewEncoder(&buf).Encode(info); err != nil {
			fatal(log, err)
		}
		fmt.Print(buf.String())
		os.Exit(0)
	}

	common := build.Common{
		Arch:         build.Arch(archFlag),
		SDKImage:     sdkFlag,
		RootDir:      rootDirFlag,
		ToolsDir:     toolsDirFlag,
		ArtifactsDir: artifactsDirFlag,
		StateDir:     stateDirFlag,
	}
	defaults := build.Common{StateDir: buildcfg.DefaultStateDir()}
	if err := buildcfg.MergeDefaults(&common, &defaults); err != nil {
		fatal(log, err)
	}

	driver, err := newDriver(kindFlag, common, info, log)
	if err != nil {
		fatal(log, err)
	}

	if err := driver.Run(context.Background()); err != nil {
		fatal(log, err)
	}
}

func newDriver(kind string, common build.Common, info manifest.Info, log *logrus.Entry) (*build.Driver, error) {
	switch kind {
	case "image":
		return build.NewImageBuild(build.ImageRequest{
			Common:           common,
			Variant:          build.VariantContext{Name: nameFlag},
			Format:           info.ImageFormat,
			Partition:        info.ImageLayout.PartitionPlan,
			OSImageSizeGiB:   info.ImageLayout.OSImageSizeGiB,
			DataImageSizeGiB: info.ImageLayout.DataImageSizeGiB,
			KernelParameters: info.KernelParameters,
			Packages:         info.IncludedPackages,
			PrettyName:       nameFlag,
			BuildID:          buildIDFlag,
			VersionID:        versionIDFlag,
			ImageFeatures:    info.ImageFeatures,
		}, log)
	default:
		return build.NewPackageBuild(build.PackageRequest{
			Common:        common,
			PackageName:   nameFlag,
			OverrideName:  overrideFlag,
			DestRepo:      repoFlag,
			Variant:       build.VariantContext{Name: nameFlag},
			ImageFeatures: info.ImageFeatures,
		}, log)
	}
}

func fatal(log *logrus.Entry, err error) {
	wrapped := errors.Wrap(err, 0)
	log.Error(wrapped.ErrorStack())
	log.Fatal(err.Error())
}
