package cpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/parallel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func executable(kind kernel.Kind) bool {
	switch kind {
	case kernel.KindBinary, kernel.KindBinaryFunc, kernel.KindUnary, kernel.KindWhere,
		kernel.KindReduce, kernel.KindRandomSeed, kernel.KindRandomNext, kernel.KindRandomNormal:
		return true
	}
	return false
}

// execute runs one dispatch of k over groups workgroups.
func execute(k *kernel.Kernel, bufs []*buffer, groups int, par parallel.Config) error {
	slot := func(o kernel.Operand) (*buffer, error) {
		if int(o.Slot) >= len(bufs) {
			return nil, fmt.Errorf("cpu: %s: slot %d not bound", k.Label, o.Slot)
		}
		return bufs[o.Slot], nil
	}
	lanes := groups * k.Workgroup
	d := k.Desc

	switch d.Kind {
	case kernel.KindBinary, kernel.KindBinaryFunc, kernel.KindUnary, kernel.KindWhere:
		return elementwise(k, bufs, lanes, par)

	case kernel.KindReduce:
		in, err := slot(d.Inputs[0])
		if err != nil {
			return err
		}
		params, err := slot(d.Inputs[1])
		if err != nil {
			return err
		}
		out, err := slot(d.Output)
		if err != nil {
			return err
		}
		return reduce(d, newView(in, d.Output.Type), newView(out, d.Output.Type), int(newView(params, tensor.Uint32).u32(0)), groups, par)

	case kernel.KindRandomSeed:
		st, err := slot(d.Inputs[0])
		if err != nil {
			return err
		}
		params, err := slot(d.Inputs[1])
		if err != nil {
			return err
		}
		p := newView(params, tensor.Uint32)
		seedStreams(st.data, int(p.u32(0)), int(p.u32(1)))
		return nil

	case kernel.KindRandomNext, kernel.KindRandomNormal:
		st, err := slot(d.Inputs[0])
		if err != nil {
			return err
		}
		out, err := slot(d.Output)
		if err != nil {
			return err
		}
		var companion *buffer
		if d.Kind == kernel.KindRandomNormal {
			if companion, err = slot(d.Companion); err != nil {
				return err
			}
		}
		return random(d, st.data, newView(out, d.Output.Type), companion, min(lanes, len(st.data)/16), par)
	}
	return fmt.Errorf("cpu: %s: unsupported kernel kind %d", k.Label, d.Kind)
}

type operand struct {
	kernel.Operand
	v       view
	strides []uint32
}

func (o operand) value(i int) float64 {
	var x float64
	if o.Scalar {
		x = o.Value
	} else {
		x = o.v.load(i)
	}
	return convert(x, o.Type, o.Effective())
}

func elementwise(k *kernel.Kernel, bufs []*buffer, lanes int, par parallel.Config) error {
	d := k.Desc
	ops := make([]operand, len(d.Inputs))
	strideIdx := 0
	var outStrides []uint32
	var words view
	if d.HasScalars {
		if int(d.ScalarSlot) >= len(bufs) {
			return fmt.Errorf("cpu: %s: scalar slot %d not bound", k.Label, d.ScalarSlot)
		}
		words = newView(bufs[d.ScalarSlot], tensor.Uint32)
	}
	scalar := 0
	for i, in := range d.Inputs {
		ops[i].Operand = in
		if in.Scalar {
			ops[i].Value = scalarValue(words.u32(scalar), in.Type)
			scalar++
			continue
		}
		ops[i].v = newView(bufs[in.Slot], in.Type)
		if d.Strided {
			ops[i].strides = u32s(bufs[d.StrideSlots[strideIdx]].data)
			strideIdx++
		}
	}
	if d.Strided {
		outStrides = u32s(bufs[d.StrideSlots[strideIdx]].data)
	}
	out := newView(bufs[d.Output.Slot], d.Output.Type)
	n := min(lanes, out.n)

	exprType := d.Inputs[0].Effective()
	if d.Kind == kernel.KindWhere {
		exprType = d.Inputs[1].Effective()
	}

	return parallel.ForRange(context.Background(), n, func(start, end int) error {
		args := make([]float64, len(ops))
		for idx := start; idx < end; idx++ {
			for i, o := range ops {
				off := idx
				if d.Strided && !o.Scalar {
					off = stridedOffset(uint32(idx), outStrides, o.strides) //nolint:gosec // G115: idx < out.n
				}
				args[i] = o.value(off)
			}

			var r float64
			switch d.Kind {
			case kernel.KindBinary, kernel.KindBinaryFunc:
				r = binop(d.Op, exprType, args[0], args[1])
			case kernel.KindUnary:
				r = unop(d.Op, exprType, args[0])
			case kernel.KindWhere:
				r = args[2]
				if args[0] != 0 {
					r = args[1]
				}
			}
			out.store(idx, convert(r, exprType, d.Output.Type))
		}
		return nil
	}, par)
}

// stridedOffset decomposes idx over the output strides with the wrapping
// u32 arithmetic of the generated program.
func stridedOffset(idx uint32, outStrides, inStrides []uint32) int {
	return int(tensor.SourceOffset(idx, outStrides, inStrides))
}

// scalarValue decodes a scalar buffer word of type dt.
func scalarValue(w uint32, dt tensor.DataType) float64 {
	switch dt {
	case tensor.Int32:
		return float64(int32(w)) //nolint:gosec // G115: bit reinterpretation
	case tensor.Uint32:
		return float64(w)
	case tensor.Float16:
		return float64(float16.Frombits(uint16(w)).Float32()) //nolint:gosec // G115: low half
	default:
		return float64(math.Float32frombits(w))
	}
}

func u32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

// reduce folds 2*Lanes elements per workgroup through the same tree the
// generated program uses.
func reduce(d kernel.Desc, in, out view, n, groups int, par parallel.Config) error {
	lanes := d.Lanes
	dt := d.Output.Type
	ident := identity(d.Op, dt)

	cfg := par
	cfg.MinChunkSize = 1
	return parallel.ForRange(context.Background(), groups, func(start, end int) error {
		scratch := make([]float64, lanes)
		for wg := start; wg < end; wg++ {
			base := wg * lanes * 2
			if base >= n {
				continue
			}
			for l := 0; l < lanes; l++ {
				i := base + l
				acc := ident
				if i < n {
					acc = in.load(i)
				}
				if i+lanes < n {
					acc = binop(d.Op, dt, acc, in.load(i+lanes))
				}
				scratch[l] = acc
			}
			for s := lanes / 2; s > 0; s >>= 1 {
				for l := 0; l < s; l++ {
					scratch[l] = binop(d.Op, dt, scratch[l], scratch[l+s])
				}
			}
			out.store(wg, scratch[0])
		}
		return nil
	}, cfg)
}

func loadState(data []byte, i int) [4]uint32 {
	var s [4]uint32
	for j := range s {
		s[j] = binary.LittleEndian.Uint32(data[i*16+j*4:])
	}
	return s
}

func storeState(data []byte, i int, s [4]uint32) {
	for j := range s {
		binary.LittleEndian.PutUint32(data[i*16+j*4:], s[j])
	}
}

// seedStreams derives state[start:start+count] by successive jumps from
// state[start-1].
func seedStreams(data []byte, start, count int) {
	streams := len(data) / 16
	if start < 1 || start > streams {
		return
	}
	s := loadState(data, start-1)
	for k := 0; k < count && start+k < streams; k++ {
		s = Jump(s)
		storeState(data, start+k, s)
	}
}

func unit(x uint32) float32 {
	return math.Float32frombits((x>>9)|0x3f800000) - 1
}

func random(d kernel.Desc, state []byte, out view, companion *buffer, n int, par parallel.Config) error {
	dt := d.Output.Type
	var comp view
	if companion != nil {
		comp = newView(companion, dt)
	}
	return parallel.ForRange(context.Background(), n, func(start, end int) error {
		for idx := start; idx < end; idx++ {
			s := loadState(state, idx)
			if d.Kind == kernel.KindRandomNext {
				x := Next(&s)
				storeState(state, idx, s)
				switch dt {
				case tensor.Uint32:
					out.store(idx, float64(x))
				case tensor.Int32:
					out.store(idx, float64(int32(x))) //nolint:gosec // G115: bitcast
				case tensor.Float32:
					out.store(idx, float64(unit(x)))
				case tensor.Float16:
					out.store(idx, float64(float16.Frombits(uint16((x>>22)|0x3c00)).Float32()-1)) //nolint:gosec // G115: 16 bits
				}
				continue
			}

			u1 := 1 - unit(Next(&s))
			u2 := unit(Next(&s))
			storeState(state, idx, s)
			r := float32(math.Sqrt(float64(-2 * float32(math.Log(float64(u1))))))
			theta := float32(6.2831853) * u2
			out.store(idx, fit(float64(r*float32(math.Cos(float64(theta)))), dt))
			comp.store(idx, fit(float64(r*float32(math.Sin(float64(theta)))), dt))
		}
		return nil
	}, par)
}
