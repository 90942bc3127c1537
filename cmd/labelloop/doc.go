// Command labelloop drives the Label Studio and YOLO labeling loop: upload
// images, export annotations as a dataset, fine-tune, predict, and import the
// predictions back as pre-annotations.
package main
