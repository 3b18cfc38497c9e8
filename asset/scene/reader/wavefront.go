package reader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset"
	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/asset/texture"
	"github.com/auriga-rt/auriga/log"
)

// Intermediate mtl record. Converted to a scene material once the full
// library has been parsed.
type wavefrontMaterial struct {
	Name string

	// Diffuse color.
	Kd mgl32.Vec3

	// Shininess exponent.
	Ns float32

	// Dissolve; 1 is fully opaque.
	D float32

	// Diffuse texture path, relative to the mtl file.
	KdTex string
}

// Map the parsed mtl record onto the Disney parameterization.
func (wf *wavefrontMaterial) toMaterial(kdTexID int32) scene.Material {
	specular := mgl32.Clamp(wf.Ns/500, 0, 1)

	mat := scene.Material{
		BaseColor:            scene.ColorValue(wf.Kd),
		Specular:             scene.ScalarParam(specular),
		Roughness:            scene.ScalarParam(1 - specular),
		SpecularTransmission: scene.ScalarParam(mgl32.Clamp(1-wf.D, 0, 1)),
	}
	if kdTexID >= 0 {
		mat.BaseColor = scene.TexturedColor(kdTexID)
	}
	return mat
}

// Per-geometry parse state. Vertices are deduplicated on the full
// (position, normal, uv) index tuple so renderer-style single indexing
// comes out the other end.
type wavefrontGeometry struct {
	name         string
	geom         scene.Geometry
	materialID   int32
	indexMapping map[[3]int32]uint32
}

func newWavefrontGeometry(name string) *wavefrontGeometry {
	return &wavefrontGeometry{
		name:         name,
		materialID:   scene.UnassignedMaterial,
		indexMapping: make(map[[3]int32]uint32),
	}
}

type wavefrontSceneReader struct {
	logger log.Logger

	// Global coordinate lists; face indices are 1-based into these.
	vertexList []mgl32.Vec3
	normalList []mgl32.Vec3
	uvList     []mgl32.Vec2

	geometries  []*wavefrontGeometry
	curGeometry *wavefrontGeometry

	materials      []*wavefrontMaterial
	matNameToIndex map[string]int32
	curMaterial    int32

	textures      []scene.Image
	texPathToID   map[string]int32
	matKdTexture  map[int32]int32
	warnedPerFace map[string]bool
}

// Create a new wavefront scene reader.
func newWavefrontReader() *wavefrontSceneReader {
	return &wavefrontSceneReader{
		logger:         log.New("wavefront scene reader"),
		matNameToIndex: make(map[string]int32),
		curMaterial:    scene.UnassignedMaterial,
		texPathToID:    make(map[string]int32),
		matKdTexture:   make(map[int32]int32),
		warnedPerFace:  make(map[string]bool),
	}
}

// Read scene definition.
func (r *wavefrontSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	if err := r.parse(sceneRes); err != nil {
		return nil, err
	}
	r.flushGeometry()
	if len(r.geometries) == 0 {
		return nil, fmt.Errorf("wavefront: %q contains no faces", sceneRes.Path())
	}

	// All obj geometries form a single mesh placed once at the origin.
	mesh := scene.Mesh{}
	materialIDs := make([]int32, 0, len(r.geometries))
	for _, g := range r.geometries {
		mesh.Geometries = append(mesh.Geometries, g.geom)
		materialIDs = append(materialIDs, g.materialID)
	}

	sc := &scene.Scene{
		Meshes: []scene.Mesh{mesh},
		Instances: []scene.Instance{{
			Transform:   mgl32.Ident4(),
			MeshID:      0,
			MaterialIDs: materialIDs,
		}},
		Textures: r.textures,
	}
	for _, wfMat := range r.materials {
		texID := int32(-1)
		if id, exists := r.matKdTexture[r.matNameToIndex[wfMat.Name]]; exists {
			texID = id
		}
		sc.Materials = append(sc.Materials, wfMat.toMaterial(texID))
	}

	// obj carries no lights; synthesize one so the scene is renderable.
	r.logger.Notice("no lights in obj scene; generating one")
	sc.Lights = append(sc.Lights, scene.DefaultLight(20))

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	r.logger.Noticef("parsed scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return sc, nil
}

// Append the current geometry to the parsed list if it holds any faces.
func (r *wavefrontSceneReader) flushGeometry() {
	if r.curGeometry != nil && len(r.curGeometry.geom.Indices) > 0 {
		r.geometries = append(r.geometries, r.curGeometry)
	}
	r.curGeometry = nil
}

// Get the geometry faces are currently appended to, creating a default one
// for files that define faces before any group statement.
func (r *wavefrontSceneReader) targetGeometry() *wavefrontGeometry {
	if r.curGeometry == nil {
		r.curGeometry = newWavefrontGeometry("default")
	}
	return r.curGeometry
}

func (r *wavefrontSceneReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	return fmt.Errorf("[%s: %d] %s", file, line, fmt.Sprintf(msgFormat, args...))
}

// Parse wavefront object scene format.
func (r *wavefrontSceneReader) parse(res *asset.Resource) error {
	var lineNum int

	scanner := bufio.NewScanner(res)
	scanner.Buffer(make([]byte, 0, 512*1024), 512*1024)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "mtllib":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "mtllib"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			mtlRes, err := asset.NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			err = r.parseMaterials(mtlRes)
			mtlRes.Close()
			if err != nil {
				return err
			}
		case "usemtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "usemtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			matIndex, exists := r.matNameToIndex[lineTokens[1]]
			if !exists {
				return r.emitError(res.Path(), lineNum, `undefined material with name "%s"`, lineTokens[1])
			}
			r.curMaterial = matIndex
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.normalList = append(r.normalList, v)
		case "vt":
			v, err := parseVec2(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.uvList = append(r.uvList, v)
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}
			r.flushGeometry()
			r.curGeometry = newWavefrontGeometry(lineTokens[1])
		case "f":
			if err := r.parseFace(lineTokens); err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
		}
	}
	return scanner.Err()
}

// Parse a face statement, fan-triangulating polygons with more than three
// vertices.
func (r *wavefrontSceneReader) parseFace(lineTokens []string) error {
	if len(lineTokens) < 4 {
		return fmt.Errorf("%w: face with %d vertices", ErrNonTriangleFace, len(lineTokens)-1)
	}

	geom := r.targetGeometry()
	if len(geom.geom.Indices) == 0 {
		geom.materialID = r.curMaterial
	} else if geom.materialID != r.curMaterial && !r.warnedPerFace[geom.name] {
		// Per-face material switches are not representable; the first
		// assignment wins for the whole geometry.
		r.logger.Warningf(`geometry "%s" uses multiple materials; keeping the first`, geom.name)
		r.warnedPerFace[geom.name] = true
	}

	indices := make([]uint32, len(lineTokens)-1)
	for i, token := range lineTokens[1:] {
		vertIdx, err := r.selectVertex(geom, token)
		if err != nil {
			return err
		}
		indices[i] = vertIdx
	}

	for i := 2; i < len(indices); i++ {
		geom.geom.Indices = append(geom.geom.Indices, [3]uint32{indices[0], indices[i-1], indices[i]})
	}
	return nil
}

// Resolve a face vertex token ("v", "v/vt", "v//vn" or "v/vt/vn") to a
// deduplicated geometry vertex index, appending the attribute data on first
// sight of the tuple.
func (r *wavefrontSceneReader) selectVertex(geom *wavefrontGeometry, token string) (uint32, error) {
	fields := strings.Split(token, "/")
	if len(fields) > 3 {
		return 0, fmt.Errorf(`unsupported face vertex syntax "%s"`, token)
	}

	tuple := [3]int32{-1, -1, -1}
	lists := [3]int{len(r.vertexList), len(r.uvList), len(r.normalList)}
	for i, field := range fields {
		if field == "" {
			continue
		}
		index, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return 0, fmt.Errorf(`invalid face index "%s"`, field)
		}
		// Indices are 1-based; negative values count from the list end.
		if index < 0 {
			index += int64(lists[i])
		} else {
			index--
		}
		if index < 0 || index >= int64(lists[i]) {
			return 0, fmt.Errorf(`face index "%s" out of range`, field)
		}
		tuple[i] = int32(index)
	}
	if tuple[0] == -1 {
		return 0, fmt.Errorf(`face vertex "%s" is missing a position index`, token)
	}

	if vertIdx, exists := geom.indexMapping[tuple]; exists {
		return vertIdx, nil
	}

	vertIdx := uint32(len(geom.geom.Positions))
	geom.indexMapping[tuple] = vertIdx
	geom.geom.Positions = append(geom.geom.Positions, r.vertexList[tuple[0]])
	if tuple[1] != -1 {
		geom.geom.UVs = append(geom.geom.UVs, r.uvList[tuple[1]])
	}
	if tuple[2] != -1 {
		geom.geom.Normals = append(geom.geom.Normals, r.normalList[tuple[2]].Normalize())
	}
	return vertIdx, nil
}

// Parse wavefront material library format.
func (r *wavefrontSceneReader) parseMaterials(res *asset.Resource) error {
	var lineNum int
	var curMaterial *wavefrontMaterial

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "newmtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "newmtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			matName := lineTokens[1]
			if _, exists := r.matNameToIndex[matName]; exists {
				return r.emitError(res.Path(), lineNum, `duplicate material definition "%s"`, matName)
			}

			curMaterial = &wavefrontMaterial{Name: matName, D: 1}
			r.matNameToIndex[matName] = int32(len(r.materials))
			r.materials = append(r.materials, curMaterial)
		case "Kd", "Ns", "d", "map_Kd":
			if curMaterial == nil {
				return r.emitError(res.Path(), lineNum, `"%s" before any material definition`, lineTokens[0])
			}

			var err error
			switch lineTokens[0] {
			case "Kd":
				curMaterial.Kd, err = parseVec3(lineTokens)
			case "Ns":
				curMaterial.Ns, err = parseFloat32(lineTokens)
			case "d":
				curMaterial.D, err = parseFloat32(lineTokens)
			case "map_Kd":
				if len(lineTokens) != 2 {
					err = fmt.Errorf(`unsupported syntax for "map_Kd"; expected 1 argument; got %d`, len(lineTokens)-1)
					break
				}
				curMaterial.KdTex = lineTokens[1]
				err = r.loadDiffuseTexture(curMaterial, res)
			}
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
		}
	}
	return scanner.Err()
}

// Decode a diffuse texture referenced by a material, reusing already decoded
// images when multiple materials point at the same file. Color textures are
// tagged sRGB.
func (r *wavefrontSceneReader) loadDiffuseTexture(mat *wavefrontMaterial, relTo *asset.Resource) error {
	matIndex := r.matNameToIndex[mat.Name]
	if texID, exists := r.texPathToID[mat.KdTex]; exists {
		r.matKdTexture[matIndex] = texID
		return nil
	}

	texRes, err := asset.NewResource(mat.KdTex, relTo)
	if err != nil {
		return err
	}
	defer texRes.Close()

	data, err := io.ReadAll(texRes)
	if err != nil {
		return err
	}
	img, err := texture.Decode(mat.KdTex, data, false)
	if err != nil {
		return err
	}
	img.ColorSpace = scene.SRGB

	texID := int32(len(r.textures))
	r.textures = append(r.textures, *img)
	r.texPathToID[mat.KdTex] = texID
	r.matKdTexture[matIndex] = texID
	return nil
}

func parseFloat32(lineTokens []string) (float32, error) {
	if len(lineTokens) < 2 {
		return 0, fmt.Errorf(`unsupported syntax for "%s"; expected 1 argument`, lineTokens[0])
	}
	val, err := strconv.ParseFloat(lineTokens[1], 32)
	if err != nil {
		return 0, err
	}
	return float32(val), nil
}

func parseVec3(lineTokens []string) (mgl32.Vec3, error) {
	if len(lineTokens) < 4 {
		return mgl32.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments`, lineTokens[0])
	}

	var v mgl32.Vec3
	for i := 0; i < 3; i++ {
		val, err := strconv.ParseFloat(lineTokens[i+1], 32)
		if err != nil {
			return mgl32.Vec3{}, err
		}
		v[i] = float32(val)
	}
	return v, nil
}

func parseVec2(lineTokens []string) (mgl32.Vec2, error) {
	if len(lineTokens) < 3 {
		return mgl32.Vec2{}, fmt.Errorf(`unsupported syntax for "%s"; expected 2 arguments`, lineTokens[0])
	}

	var v mgl32.Vec2
	for i := 0; i < 2; i++ {
		val, err := strconv.ParseFloat(lineTokens[i+1], 32)
		if err != nil {
			return mgl32.Vec2{}, err
		}
		v[i] = float32(val)
	}
	return v, nil
}
