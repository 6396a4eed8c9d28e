// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

// crcTable holds the CRC-16-CCITT remainder of every possible leading byte
var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// CRCUpdate folds one byte into a running CRC-16-CCITT accumulator
func CRCUpdate(acc uint16, b byte) uint16 {
	return (acc << 8) ^ crcTable[byte(acc>>8)^b]
}

// CRCFinalize normalizes an accumulator into the transmitted checksum.
// CRC-16-CCITT (FALSE) has no output reflection or xor, so the accumulator is returned as is.
func CRCFinalize(acc uint16) uint16 {
	return acc
}

// CalculateCRC computes CRC-16-CCITT checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = CRCUpdate(crc, b)
	}
	return CRCFinalize(crc)
}
