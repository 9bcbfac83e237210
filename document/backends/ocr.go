package backends

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goviewer/document"
	"github.com/otiai10/gosseract/v2"
)

// recognizeText builds a word level text layer for an image with tesseract. Rectangles are in
// image pixels, which are the document units of image backed pages.
func recognizeText(ctx context.Context, img image.Image, language string) (document.TextLayer, error) {
	if err := ctx.Err(); err != nil {
		return document.TextLayer{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return document.TextLayer{}, fmt.Errorf("encode page for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			return document.TextLayer{}, fmt.Errorf("set OCR language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return document.TextLayer{}, fmt.Errorf("set OCR image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return document.TextLayer{}, fmt.Errorf("recognize text: %w", err)
	}

	var b document.TextBuilder
	line := -1
	block := -1
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		switch {
		case line == -1:
		case box.BlockNum != block || box.LineNum != line:
			b.Separator("\n")
		default:
			b.Separator(" ")
		}
		line, block = box.LineNum, box.BlockNum
		b.Add(box.Word, document.Rect{
			X:      float64(box.Box.Min.X),
			Y:      float64(box.Box.Min.Y),
			Width:  float64(box.Box.Dx()),
			Height: float64(box.Box.Dy()),
		})
	}
	Logger.Debug("OCR finished", "words", len(boxes))
	return b.Layer(), nil
}
