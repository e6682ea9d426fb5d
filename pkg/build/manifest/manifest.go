// Package manifest defines the read-only view of a repository's manifest
// that BuildDriver consumes. Per spec §1, the manifest parser itself is
// an external collaborator out of scope for this repository; only the
// struct shape it's expected to produce is defined here, grounded on the
// fields original_source/tools/buildsys/src/builder.rs's ManifestInfo
// actually reads.
package manifest

// ImageFormat is the on-disk format of a built image (spec §3).
type ImageFormat string

const (
	ImageFormatRaw   ImageFormat = "raw"
	ImageFormatQcow2 ImageFormat = "qcow2"
	ImageFormatVmdk  ImageFormat = "vmdk"
)

// PartitionPlan selects how OS and data partitions are laid out (spec §3).
type PartitionPlan string

const (
	PartitionPlanSplit   PartitionPlan = "split"
	PartitionPlanUnified PartitionPlan = "unified"
)

// ImageFeature is an enumerated flag steering conditional package
// compilation for a given image variant (spec §3, GLOSSARY).
type ImageFeature string

// ImageLayout describes the sizes and partition plan for a variant's
// images, with GiB-denominated sizes. Publish sizes default to the live
// size when unset, matching ImageLayout::publish_image_sizes_gib in the
// original.
type ImageLayout struct {
	OSImageSizeGiB          int
	OSImagePublishSizeGiB   int
	DataImageSizeGiB        int
	DataImagePublishSizeGiB int
	PartitionPlan           PartitionPlan
}

// PublishSizes returns the publish sizes, defaulting to the live sizes
// when the publish fields are zero.
func (l ImageLayout) PublishSizes() (osPublish, dataPublish int) {
	osPublish = l.OSImagePublishSizeGiB
	if osPublish == 0 {
		osPublish = l.OSImageSizeGiB
	}
	dataPublish = l.DataImagePublishSizeGiB
	if dataPublish == 0 {
		dataPublish = l.DataImageSizeGiB
	}
	return osPublish, dataPublish
}

// Info is the read-only manifest view BuildDriver is constructed from.
type Info struct {
	// PackageName is the package name recorded in the manifest.
	// cmd/buildsys does not read it: a package build takes its name from
	// the --name and --override-name flags.
	PackageName string

	ImageLayout      ImageLayout
	ImageFeatures    map[ImageFeature]struct{}
	ImageFormat      ImageFormat
	KernelParameters []string
	IncludedPackages []string
}
