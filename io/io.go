/*package io reads Gadget-2 gas snapshots and reads and writes the files
produced by an extraction run.
*/
package io

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/phil-mansfield/spectra/geom"
)

const (
	gadgetHeaderSize = 256
	gadgetTypes      = 6
	gasType          = 0
)

// CosmologyHeader contains information describing the cosmological
// context in which the simulation was run.
type CosmologyHeader struct {
	Z      float64
	OmegaM float64
	OmegaL float64
	H100   float64
}

// SnapshotHeader describes meta-information about one snapshot chunk.
type SnapshotHeader struct {
	Cosmo CosmologyHeader

	A          float64 // Scale factor
	Count      int64   // Number of gas particles in this chunk
	TotalCount int64   // Number of gas particles in all chunks
	TotalWidth float64 // Width of the sim's bounding box
	Files      int     // Number of chunks in the snapshot
	Order      binary.ByteOrder
}

// Gas holds the raw fields of every gas particle in a chunk, in Gadget's
// internal units, except that velocities have been converted to peculiar
// velocities.
type Gas struct {
	Xs, Vs []geom.Vec
	// U is the internal energy per unit mass, Rho the density, NE the
	// electron abundance, NH the neutral hydrogen fraction, and HSml the
	// smoothing length.
	U, Rho, NE, NH, HSml []float32
}

// Len returns the number of particles.
func (g *Gas) Len() int { return len(g.Xs) }

// gadgetHeader is the formatting for meta-information used by Gadget 2.
type gadgetHeader struct {
	NPart                                     [gadgetTypes]uint32
	Mass                                      [gadgetTypes]float64
	Time, Redshift                            float64
	FlagSfr, FlagFeedback                     int32
	NPartTotal                                [gadgetTypes]uint32
	FlagCooling, NumFiles                     int32
	BoxSize, Omega0, OmegaLambda, HubbleParam float64
	FlagStellarAge, FlagMetals                int32
	NPartTotalHighWord                        [gadgetTypes]uint32

	Padding [64]byte
}

// Standardize returns a SnapshotHeader that corresponds to the source
// Gadget 2 header.
func (gh *gadgetHeader) Standardize(order binary.ByteOrder) *SnapshotHeader {
	h := &SnapshotHeader{}

	h.Count = int64(gh.NPart[gasType])
	h.TotalCount = int64(gh.NPartTotal[gasType]) +
		int64(gh.NPartTotalHighWord[gasType])<<32
	h.TotalWidth = gh.BoxSize
	h.A = gh.Time
	h.Files = int(gh.NumFiles)
	h.Order = order

	h.Cosmo.Z = gh.Redshift
	h.Cosmo.OmegaM = gh.Omega0
	h.Cosmo.OmegaL = gh.OmegaLambda
	h.Cosmo.H100 = gh.HubbleParam

	return h
}

// count returns the number of particles of every type in the file.
func (gh *gadgetHeader) count() int64 {
	n := int64(0)
	for _, ni := range gh.NPart {
		n += int64(ni)
	}
	return n
}

// massCount returns the number of particles in the MASS block: only types
// with no fixed mass are stored there.
func (gh *gadgetHeader) massCount() int64 {
	n := int64(0)
	for i, ni := range gh.NPart {
		if gh.Mass[i] == 0 {
			n += int64(ni)
		}
	}
	return n
}

// WrapDistance takes a value and interprets it as a position defined within
// a periodic domain of width h.BoxSize.
func (gh *gadgetHeader) WrapDistance(x float64) float64 {
	return geom.Wrap(x, gh.BoxSize)
}

// readInt32 returns single 32-bit interger from the given file using the
// given endianness.
func readInt32(r io.Reader, order binary.ByteOrder) (int32, error) {
	var n int32
	err := binary.Read(r, order, &n)
	return n, err
}

// endianness determines the byte order of a Gadget file from the marker of
// its first record, which is always the header size.
func endianness(r io.Reader) (binary.ByteOrder, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(buf[:]) == gadgetHeaderSize {
		return binary.LittleEndian, nil
	} else if binary.BigEndian.Uint32(buf[:]) == gadgetHeaderSize {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf(
		"First record marker is %d, not %d. Not a Gadget-2 file.",
		binary.LittleEndian.Uint32(buf[:]), gadgetHeaderSize,
	)
}

// gadgetReader walks the records of a Gadget-2 format 1 file. The first
// error encountered is kept and every later call becomes a no-op.
type gadgetReader struct {
	f     *os.File
	path  string
	order binary.ByteOrder
	err   error
}

// marker reads a record marker and checks that it matches the given size.
func (gr *gadgetReader) marker(block string, size int64) {
	if gr.err != nil {
		return
	}
	n, err := readInt32(gr.f, gr.order)
	if err != nil {
		gr.err = fmt.Errorf("Could not read %s block of %s: %w", block, gr.path, err)
	} else if int64(n) != size {
		gr.err = fmt.Errorf(
			"%s block of %s has size %d, expected %d.", block, gr.path, n, size,
		)
	}
}

// read reads a whole record into buf.
func (gr *gadgetReader) read(block string, buf interface{}) {
	size := int64(binary.Size(buf))
	gr.marker(block, size)
	if gr.err != nil {
		return
	}
	if err := binary.Read(gr.f, gr.order, buf); err != nil {
		gr.err = fmt.Errorf("Could not read %s block of %s: %w", block, gr.path, err)
		return
	}
	gr.marker(block, size)
}

// skip moves past a record without reading it. Its size is taken from the
// leading marker and returned.
func (gr *gadgetReader) skip(block string) int64 {
	if gr.err != nil {
		return 0
	}
	n, err := readInt32(gr.f, gr.order)
	if err != nil {
		gr.err = fmt.Errorf("Could not read %s block of %s: %w", block, gr.path, err)
		return 0
	}
	if _, err := gr.f.Seek(int64(n), io.SeekCurrent); err != nil {
		gr.err = err
		return 0
	}
	gr.marker(block, int64(n))
	return int64(n)
}

// openGadget opens a file and reads its header.
func openGadget(path string) (*gadgetReader, *gadgetHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	order, err := endianness(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	gr := &gadgetReader{f: f, path: path, order: order}
	gh := &gadgetHeader{}
	if err := binary.Read(f, order, gh); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("Could not read header of %s: %w", path, err)
	}
	gr.marker("HEAD", gadgetHeaderSize)
	if gr.err != nil {
		f.Close()
		return nil, nil, gr.err
	}

	return gr, gh, nil
}

// ReadGadgetHeader reads the header of a Gadget-2 file of either
// endianness.
func ReadGadgetHeader(path string) (*SnapshotHeader, error) {
	gr, gh, err := openGadget(path)
	if err != nil {
		return nil, err
	}
	defer gr.f.Close()
	return gh.Standardize(gr.order), nil
}

// ReadGadgetGas reads every gas particle in a Gadget-2 format 1 file. The
// file must have been written with cooling enabled so that the NE and NH
// blocks exist. Positions are wrapped into the box and velocities are
// converted to peculiar velocities.
func ReadGadgetGas(path string) (*SnapshotHeader, *Gas, error) {
	gr, gh, err := openGadget(path)
	if err != nil {
		return nil, nil, err
	}
	defer gr.f.Close()

	h := gh.Standardize(gr.order)
	if gh.FlagCooling == 0 {
		return nil, nil, fmt.Errorf(
			"%s was run without cooling, so it has no NE or NH blocks.", path,
		)
	}

	ngas, nall := int(gh.NPart[gasType]), gh.count()
	floatBuf := make([]float32, 3*nall)
	gas := &Gas{
		Xs: make([]geom.Vec, ngas), Vs: make([]geom.Vec, ngas),
		U: make([]float32, ngas), Rho: make([]float32, ngas),
		NE: make([]float32, ngas), NH: make([]float32, ngas),
		HSml: make([]float32, ngas),
	}

	// Gas particles are the first type in every block.
	gr.read("POS", floatBuf)
	for i := range gas.Xs {
		for k := 0; k < 3; k++ {
			gas.Xs[i][k] = float32(gh.WrapDistance(float64(floatBuf[3*i+k])))
		}
	}

	gr.read("VEL", floatBuf)
	rootA := float32(math.Sqrt(gh.Time))
	for i := range gas.Vs {
		for k := 0; k < 3; k++ {
			gas.Vs[i][k] = floatBuf[3*i+k] * rootA
		}
	}

	if idSize := gr.skip("ID"); gr.err == nil &&
		idSize != 4*nall && idSize != 8*nall {
		return nil, nil, fmt.Errorf(
			"ID block of %s has size %d, but there are %d particles.",
			path, idSize, nall,
		)
	}
	if gh.massCount() > 0 {
		gr.skip("MASS")
	}

	gr.read("U", gas.U)
	gr.read("RHO", gas.Rho)
	gr.read("NE", gas.NE)
	gr.read("NH", gas.NH)
	gr.read("HSML", gas.HSml)

	if gr.err != nil {
		return nil, nil, gr.err
	}
	return h, gas, nil
}

// WriteGadgetGas writes a Gadget-2 format 1 file containing only gas
// particles, with cooling blocks. It exists so that snapshots can be
// generated for testing.
func WriteGadgetGas(
	path string, h *SnapshotHeader, gas *Gas, order binary.ByteOrder,
) error {
	n := gas.Len()
	if len(gas.Vs) != n || len(gas.U) != n || len(gas.Rho) != n ||
		len(gas.NE) != n || len(gas.NH) != n || len(gas.HSml) != n {
		return fmt.Errorf("Gas buffers have unequal lengths.")
	}

	gh := &gadgetHeader{}
	gh.NPart[gasType] = uint32(n)
	gh.NPartTotal[gasType] = uint32(h.TotalCount)
	gh.NPartTotalHighWord[gasType] = uint32(h.TotalCount >> 32)
	gh.Time, gh.Redshift = h.A, h.Cosmo.Z
	gh.FlagCooling, gh.NumFiles = 1, int32(h.Files)
	gh.BoxSize = h.TotalWidth
	gh.Omega0, gh.OmegaLambda = h.Cosmo.OmegaM, h.Cosmo.OmegaL
	gh.HubbleParam = h.Cosmo.H100

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rootA := float32(math.Sqrt(h.A))
	xs, vs := make([]float32, 3*n), make([]float32, 3*n)
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			xs[3*i+k] = gas.Xs[i][k]
			vs[3*i+k] = gas.Vs[i][k] / rootA
		}
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	blocks := []interface{}{gh, xs, vs, ids}
	if gh.massCount() > 0 {
		blocks = append(blocks, make([]float32, n))
	}
	blocks = append(blocks, gas.U, gas.Rho, gas.NE, gas.NH, gas.HSml)
	for _, block := range blocks {
		size := int32(binary.Size(block))
		if err := binary.Write(f, order, size); err != nil {
			return err
		}
		if err := binary.Write(f, order, block); err != nil {
			return err
		}
		if err := binary.Write(f, order, size); err != nil {
			return err
		}
	}

	return nil
}

// Chunks iterates over the files of a snapshot. A snapshot written as
// several files prefix.0, prefix.1, ... is iterated in order until a file
// does not exist. Otherwise prefix itself is the only chunk.
type Chunks struct {
	prefix string
	multi  bool
	next   int
}

// NewChunks creates an iterator over the chunks of the given snapshot.
func NewChunks(prefix string) *Chunks {
	_, err := os.Stat(ChunkPath(prefix, 0))
	return &Chunks{prefix: prefix, multi: err == nil}
}

// ChunkPath returns the name of the i-th file of a multi-file snapshot.
func ChunkPath(prefix string, i int) string {
	return fmt.Sprintf("%s.%d", prefix, i)
}

// Next returns the path of the next chunk and true, or "" and false if
// there are no more chunks. The first call always returns a path.
func (c *Chunks) Next() (string, bool) {
	i := c.next
	c.next++

	if !c.multi {
		if i == 0 {
			return c.prefix, true
		}
		return "", false
	}

	path := ChunkPath(c.prefix, i)
	if i > 0 {
		if _, err := os.Stat(path); err != nil {
			return "", false
		}
	}
	return path, true
}

// Index returns the number of chunks returned by Next so far.
func (c *Chunks) Index() int { return c.next }
