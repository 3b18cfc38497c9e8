// Package bvh builds the SAH-partitioned bounding volume hierarchies backing
// acceleration structure builds. The same builder serves both levels: over
// triangles for bottom-level structures and over instances for top-level
// ones.
package bvh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis

	// Axes whose bbox side is shorter than this are not split.
	minSideLength float32 = 1e-3

	// Split candidates evaluated per axis.
	splitCandidates = 32
)

// The Volume interface is implemented by anything the builder can partition.
type Volume interface {
	BBox() [2]mgl32.Vec3
	Center() mgl32.Vec3
}

// Node is one BVH node. The two data words depend on the node type: internal
// nodes store positive left/right child indices; leaf nodes store the negated
// first item index in LData and the item count in RData.
type Node struct {
	Min   mgl32.Vec3
	LData int32

	Max   mgl32.Vec3
	RData int32
}

// Set left and right child node indices.
func (n *Node) SetChildNodes(left, right uint32) {
	n.LData = int32(left)
	n.RData = int32(right)
}

// Set leaf item range.
func (n *Node) SetItems(firstItem, count uint32) {
	n.LData = -int32(firstItem)
	n.RData = int32(count)
}

// Get leaf item range.
func (n *Node) Items() (firstItem, count uint32) {
	return uint32(-n.LData), uint32(n.RData)
}

// Returns true for leaf nodes. The root of a single-item tree is a leaf with
// LData == 0, so internal node child indices are always > 0.
func (n *Node) IsLeaf() bool {
	return n.LData <= 0
}

// A callback invoked for every generated leaf with the items it covers. The
// callback decides how leaf items land in the serialized item list and
// returns the index of the first one.
type LeafFunc func(node *Node, items []Volume) (firstItem uint32)

type builder struct {
	nodes        []Node
	leafFn       LeafFunc
	minLeafItems int
}

// Construct a BVH over a set of volumes. Splits are scored with the surface
// area heuristic; partitions that cannot beat their parent's score become
// leaves. Node 0 is always the root.
func Build(workList []Volume, minLeafItems int, leafFn LeafFunc) []Node {
	if minLeafItems < 1 {
		minLeafItems = 1
	}
	b := &builder{
		nodes:        make([]Node, 0, 2*len(workList)),
		leafFn:       leafFn,
		minLeafItems: minLeafItems,
	}
	b.partition(workList, 0)
	return b.nodes
}

// Partition worklist and return the node index.
func (b *builder) partition(workList []Volume, depth int) uint32 {
	node := Node{
		Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
	for _, item := range workList {
		itemBBox := item.BBox()
		node.Min = minVec3(node.Min, itemBBox[0])
		node.Max = maxVec3(node.Max, itemBBox[1])
	}

	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	bestScore := scorePartition(workList)
	var bestSplit *splitScore

	side := node.Max.Sub(node.Min)
	for axis := XAxis; axis <= ZAxis; axis++ {
		if side[axis] < minSideLength {
			continue
		}

		splitStep := side[axis] / splitCandidates
		for splitPoint := node.Min[axis] + splitStep; splitPoint < node.Max[axis]; splitPoint += splitStep {
			leftCount, rightCount, score := scoreSplit(workList, axis, splitPoint)
			if score < bestScore {
				bestScore = score
				bestSplit = &splitScore{
					axis:       axis,
					splitPoint: splitPoint,
					leftCount:  leftCount,
					rightCount: rightCount,
				}
			}
		}
	}

	// No split improves on keeping the items together.
	if bestSplit == nil {
		return b.createLeaf(&node, workList)
	}

	leftWorkList := make([]Volume, 0, bestSplit.leftCount)
	rightWorkList := make([]Volume, 0, bestSplit.rightCount)
	for _, item := range workList {
		if item.Center()[bestSplit.axis] < bestSplit.splitPoint {
			leftWorkList = append(leftWorkList, item)
		} else {
			rightWorkList = append(rightWorkList, item)
		}
	}

	nodeIndex := uint32(len(b.nodes))
	b.nodes = append(b.nodes, node)

	left := b.partition(leftWorkList, depth+1)
	right := b.partition(rightWorkList, depth+1)
	b.nodes[nodeIndex].SetChildNodes(left, right)

	return nodeIndex
}

func (b *builder) createLeaf(node *Node, workList []Volume) uint32 {
	firstItem := b.leafFn(node, workList)
	node.SetItems(firstItem, uint32(len(workList)))

	nodeIndex := uint32(len(b.nodes))
	b.nodes = append(b.nodes, *node)
	return nodeIndex
}

type splitScore struct {
	axis       Axis
	splitPoint float32

	leftCount, rightCount int
}

// Score a split with the surface area heuristic: leftCount * left bbox area +
// rightCount * right bbox area, lower is better. Splits producing an empty
// partition get the worst possible score.
func scoreSplit(workList []Volume, axis Axis, splitPoint float32) (leftCount, rightCount int, score float32) {
	lmin := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	rmin := lmin
	lmax := mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	rmax := lmax

	for _, item := range workList {
		itemBBox := item.BBox()
		if item.Center()[axis] < splitPoint {
			leftCount++
			lmin = minVec3(lmin, itemBBox[0])
			lmax = maxVec3(lmax, itemBBox[1])
		} else {
			rightCount++
			rmin = minVec3(rmin, itemBBox[0])
			rmax = maxVec3(rmax, itemBBox[1])
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math.MaxFloat32
	}

	return leftCount, rightCount, float32(leftCount)*halfArea(lmin, lmax) + float32(rightCount)*halfArea(rmin, rmax)
}

// Score an unsplit partition: count * bbox area.
func scorePartition(workList []Volume) float32 {
	if len(workList) == 0 {
		return math.MaxFloat32
	}

	min := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max := mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, item := range workList {
		itemBBox := item.BBox()
		min = minVec3(min, itemBBox[0])
		max = maxVec3(max, itemBBox[1])
	}
	return float32(len(workList)) * halfArea(min, max)
}

func halfArea(min, max mgl32.Vec3) float32 {
	side := max.Sub(min)
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}

func minVec3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Min(float64(a[0]), float64(b[0]))),
		float32(math.Min(float64(a[1]), float64(b[1]))),
		float32(math.Min(float64(a[2]), float64(b[2]))),
	}
}

func maxVec3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Max(float64(a[0]), float64(b[0]))),
		float32(math.Max(float64(a[1]), float64(b[1]))),
		float32(math.Max(float64(a[2]), float64(b[2]))),
	}
}
