package pipeline

import (
	powerrec "github.com/lucasjlepore/power-recorder"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/writer"
)

func marshalRecordsParquet(records []powerrec.Record) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(recordParquetRow), 4)
	if err != nil {
		return nil, err
	}
	if err := writeParquetRows(pw, records); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
