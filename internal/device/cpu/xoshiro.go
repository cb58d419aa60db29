package cpu

import "github.com/born-ml/ndgpu/internal/kernel"

func rotl(x uint32, k uint) uint32 {
	return x<<k | x>>(32-k)
}

// Next advances a xoshiro128** state by one step and returns the output word.
func Next(s *[4]uint32) uint32 {
	out := rotl(s[1]*5, 7) * 9
	t := s[1] << 9
	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = rotl(s[3], 11)
	return out
}

// Jump returns s advanced by 2^64 steps.
func Jump(s [4]uint32) [4]uint32 {
	var acc [4]uint32
	for _, word := range kernel.JumpPolynomial {
		for b := 0; b < 32; b++ {
			if word&(1<<b) != 0 {
				for j := range acc {
					acc[j] ^= s[j]
				}
			}
			Next(&s)
		}
	}
	return acc
}
